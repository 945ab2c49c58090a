package engine

import (
	"github.com/pablomguevara/my-mininet/hsia/frame"
	"github.com/pablomguevara/my-mininet/pkg/netutils"
)

// Plain learning switch for everything that is neither ARP nor DHCP
func (e *Engine) forward(sw *SwitchContext, inPort uint32, f *frame.Frame) Decision {
	sw.Macs.Learn(f.Src, inPort)

	if netutils.IsMulticastMac(f.Dst) {
		return floodFrame(CauseBroadcast)
	}

	if port, ok := sw.Macs.Lookup(f.Dst); ok {
		return forwardTo(port, CauseLearned)
	}

	return floodFrame(CauseUnknownDest)
}
