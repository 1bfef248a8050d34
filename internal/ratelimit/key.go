package ratelimit

import "strings"

// KeyForIdentifier builds the limiter key for subscription fetches of one identifier.
func KeyForIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ""
	}
	return "sub:" + identifier
}

// KeyForAddr builds the limiter key for a client address.
func KeyForAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	return "ip:" + addr
}
