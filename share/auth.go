package prshare

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ParseAuth splits a "user:pass" pair. Returns two empty strings if auth
// does not contain ":".
func ParseAuth(auth string) (string, string) {
	if strings.Contains(auth, ":") {
		pair := strings.SplitN(auth, ":", 2)
		return pair[0], pair[1]
	}
	return "", ""
}

// Operator is the single account allowed to use the operator-facing routes.
// Pass is either plain text or a bcrypt hash.
type Operator struct {
	Name string
	Pass string
}

// NewOperator parses a "user:pass" string. An empty or malformed string
// yields nil, meaning no authentication.
func NewOperator(auth string) *Operator {
	name, pass := ParseAuth(auth)
	if name == "" {
		return nil
	}
	return &Operator{Name: name, Pass: pass}
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// Check reports whether name and pass match the operator
func (o *Operator) Check(name, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(name), []byte(o.Name)) != 1 {
		return false
	}
	if isBcryptHash(o.Pass) {
		return bcrypt.CompareHashAndPassword([]byte(o.Pass), []byte(pass)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(o.Pass)) == 1
}

// Wrap requires HTTP basic auth for next. A nil Operator lets everything
// through.
func (o *Operator) Wrap(next http.Handler) http.Handler {
	if o == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, pass, ok := r.BasicAuth()
		if !ok || !o.Check(name, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="panelrelay"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
