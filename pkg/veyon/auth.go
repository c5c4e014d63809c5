package veyon

import (
	"fmt"
	"strings"
)

// AuthMethod is the uid of a WebAPI authentication plugin
type AuthMethod string

// Authentication methods known to the WebAPI
const (
	AuthKeys   AuthMethod = "0c69b301-81b4-42d6-8fae-128cdd113314"
	AuthLDAP   AuthMethod = "6f0a491e-c1c6-4338-8244-f823b0bf8670"
	AuthLogon  AuthMethod = "63611f7c-b457-42c7-832e-67d0f9281085"
	AuthSimple AuthMethod = "73430b14-ef69-4c75-a145-ba635d1cc676"
)

var authMethodNames = map[string]AuthMethod{
	"keys":   AuthKeys,
	"ldap":   AuthLDAP,
	"logon":  AuthLogon,
	"simple": AuthSimple,
}

// ParseAuthMethod accepts a method name (keys, ldap, logon, simple) or a raw uid
func ParseAuthMethod(s string) (AuthMethod, error) {
	if m, ok := authMethodNames[strings.ToLower(s)]; ok {
		return m, nil
	}
	for _, m := range authMethodNames {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown authentication method %q", s)
}

// AuthMethodName returns the short name of m, or its uid if it is not one of
// the known methods
func AuthMethodName(m AuthMethod) string {
	for name, known := range authMethodNames {
		if known == m {
			return name
		}
	}
	return string(m)
}

// KeyCredentials authenticates with AuthKeys
type KeyCredentials struct {
	KeyName string `json:"keyname"`
	KeyData string `json:"keydata"`
}

// UserCredentials authenticates with AuthLDAP or AuthLogon
type UserCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SimpleCredentials authenticates with AuthSimple
type SimpleCredentials struct {
	Password string `json:"password"`
}

// Credentials returns the credential object expected by method
func Credentials(method AuthMethod, username, password string) interface{} {
	switch method {
	case AuthKeys:
		return &KeyCredentials{KeyName: username, KeyData: password}
	case AuthSimple:
		return &SimpleCredentials{Password: password}
	default:
		return &UserCredentials{Username: username, Password: password}
	}
}
