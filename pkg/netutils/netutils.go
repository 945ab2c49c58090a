package netutils

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var BroadcastMac = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Check if a mac address is the ethernet broadcast address
func IsBroadcastMac(mac net.HardwareAddr) bool {
	return bytes.Equal(mac, BroadcastMac)
}

// Check if a mac address has the group bit set. Broadcast is multicast too.
func IsMulticastMac(mac net.HardwareAddr) bool {
	return len(mac) > 0 && mac[0]&0x01 != 0
}

// Format a datapath id the way ovs-ofctl prints it
func DpidString(dpid uint64) string {
	return fmt.Sprintf("%016x", dpid)
}

// Parse a datapath id. Accepts colon separated bytes, a 0x prefixed hex
// string, the 16 hex digit form DpidString prints (zero padded, or with a
// hex letter in it) and otherwise a decimal number. A 16 digit decimal
// never starts with 0, so it is not mistaken for hex. A printed id that is
// all digits with a leading 1-9 needs the 0x prefix.
func ParseDpid(s string) (uint64, error) {
	s = strings.TrimSpace(s)

	switch {
	case strings.Contains(s, ":"):
		hw, err := net.ParseMAC(s)
		if err != nil || len(hw) > 8 {
			return 0, fmt.Errorf("invalid dpid %q", s)
		}
		var dpid uint64
		for _, b := range hw {
			dpid = dpid<<8 | uint64(b)
		}
		return dpid, nil

	case strings.HasPrefix(s, "0x"):
		return strconv.ParseUint(s[2:], 16, 64)

	case len(s) == 16 && (s[0] == '0' || strings.ContainsAny(strings.ToLower(s), "abcdef")):
		return strconv.ParseUint(s, 16, 64)
	}

	return strconv.ParseUint(s, 10, 64)
}
