package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// expandTargets turns command-line targets into addresses. A target is a
// host name, an IPv4 address, or an IPv4 range in the last octet such as
// 10.0.0.10-20.
func expandTargets(targets []string) ([]string, error) {
	var out []string
	for _, t := range targets {
		addrs, err := expandTarget(t)
		if err != nil {
			return nil, err
		}
		out = append(out, addrs...)
	}
	return out, nil
}

func expandTarget(t string) ([]string, error) {
	dot := strings.LastIndex(t, ".")
	dash := strings.LastIndex(t, "-")
	if dot < 0 || dash < dot {
		return []string{t}, nil
	}
	prefix := t[:dot+1]
	if net.ParseIP(prefix+"0") == nil {
		return []string{t}, nil
	}
	lo, err1 := strconv.Atoi(t[dot+1 : dash])
	hi, err2 := strconv.Atoi(t[dash+1:])
	if err1 != nil || err2 != nil || lo < 0 || hi > 255 || lo > hi {
		return nil, fmt.Errorf("invalid address range %q", t)
	}
	out := make([]string, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, prefix+strconv.Itoa(i))
	}
	return out, nil
}
