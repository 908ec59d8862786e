package domain

import (
	"net"
	"regexp"
)

var reMAC = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)

// IsValidMAC reports whether mac is a syntactically and semantically
// valid hardware address.
func IsValidMAC(mac string) bool {
	if !reMAC.MatchString(mac) {
		return false
	}
	_, err := net.ParseMAC(mac)
	return err == nil
}
