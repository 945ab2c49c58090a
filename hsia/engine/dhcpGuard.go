package engine

import (
	log "github.com/sirupsen/logrus"

	"github.com/pablomguevara/my-mininet/hsia/frame"
)

// DHCP direction guard. Requests are only legal on downlinks and were
// already copied to the dhcp server by the static rules; replies are only
// legal from the uplink side and reach the client by port or by flood.
func (e *Engine) handleDhcp(sw *SwitchContext, inPort uint32, f *frame.Frame) Decision {
	uplink := sw.Roles.IsUplink(inPort)

	if f.DHCP.IsRequest() {
		if uplink {
			log.Warnf("Switch %d: illegal DHCP request from %s on uplink port %d", sw.Dpid, f.Src, inPort)
			return dropFrame(CauseIllegalDirection)
		}

		sw.Macs.Learn(f.Src, inPort)
		return dropFrame(CauseRelayed)
	}

	if !uplink {
		log.Warnf("Switch %d: illegal DHCP reply from %s on downlink port %d", sw.Dpid, f.Src, inPort)
		return dropFrame(CauseIllegalDirection)
	}

	if f.IsBroadcast() {
		return floodFrame(CauseBroadcast)
	}

	if port, ok := sw.Macs.Lookup(f.Dst); ok {
		return forwardTo(port, CauseLearned)
	}

	// the client has to get its lease, flood rather than drop
	return floodFrame(CauseUnknownDest)
}
