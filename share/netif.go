package prshare

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNoHostAddress is returned when no external IPv4 address is found
var ErrNoHostAddress = errors.New("no network interface found to host on")

// DetectHostAddress returns the machine's external IPv4 address. When there
// are several, only those starting with prefer are kept, and exactly one must
// remain.
func DetectHostAddress(prefer string) (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			candidates = append(candidates, ip4.String())
		}
	}
	return pickHostAddress(candidates, prefer)
}

func pickHostAddress(candidates []string, prefer string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoHostAddress
	}
	if len(candidates) > 1 && prefer != "" {
		var kept []string
		for _, c := range candidates {
			if strings.HasPrefix(c, prefer) {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}
	switch len(candidates) {
	case 0:
		return "", ErrNoHostAddress
	case 1:
		return candidates[0], nil
	}
	return "", fmt.Errorf("multiple network interfaces found to host on: %s", strings.Join(candidates, ", "))
}
