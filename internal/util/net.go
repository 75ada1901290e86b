package util

import "strings"

// NormalizeAddr returns addr, or fallback when addr is blank.
//
//	NormalizeAddr("", "127.0.0.1")        → "127.0.0.1"
//	NormalizeAddr("0.0.0.0", "127.0.0.1") → "0.0.0.0"
func NormalizeAddr(addr, fallback string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fallback
	}
	return addr
}
