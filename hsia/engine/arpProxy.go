package engine

import (
	log "github.com/sirupsen/logrus"

	"github.com/pablomguevara/my-mininet/hsia/frame"
	"github.com/pablomguevara/my-mininet/hsia/roleTable"
)

// ARP handling:
// - requests for the dhcp server or gateway ip are answered on the
//   ingress port; the requester is learned unless it sits behind the
//   gateway port
// - from the uplink side broadcasts flood and unicasts go to the learned
//   port or are dropped
// - on a downlink the static rules already relayed broadcasts, so only
//   learn. Unicast should never get here.
func (e *Engine) handleArp(sw *SwitchContext, inPort uint32, f *frame.Frame) Decision {
	role := sw.Roles.RoleOf(inPort)

	for _, id := range []*Identity{&e.dhcpServer, &e.gateway} {
		if !f.ARP.TargetIP.Equal(id.IP) {
			continue
		}

		if role != roleTable.Gateway {
			sw.Macs.Learn(f.Src, inPort)
		}

		return e.proxyArp(sw, inPort, f, id)
	}

	if role != roleTable.Downlink {
		if f.IsBroadcast() {
			return floodFrame(CauseBroadcast)
		}

		if port, ok := sw.Macs.Lookup(f.Dst); ok {
			return forwardTo(port, CauseLearned)
		}

		log.Debugf("Switch %d: unknown unicast ARP from %s on uplink port %d", sw.Dpid, f.Src, inPort)
		if e.policy.FloodUnknownUnicastUplink {
			return floodFrame(CauseUnknownUnicastUplink)
		}
		return dropFrame(CauseUnknownUnicastUplink)
	}

	if !f.IsBroadcast() {
		log.Warnf("Switch %d: unicast ARP from %s to %s on downlink port %d, target ip %s",
			sw.Dpid, f.Src, f.Dst, inPort, f.ARP.TargetIP)
		return dropFrame(CauseInvalidDownlinkUnicast)
	}

	sw.Macs.Learn(f.Src, inPort)

	return dropFrame(CauseRelayed)
}

// Answer an ARP request on behalf of id. Anything but a request is
// ignored so replies to the identity never loop.
func (e *Engine) proxyArp(sw *SwitchContext, inPort uint32, f *frame.Frame, id *Identity) Decision {
	if !f.ARP.IsRequest() {
		return dropFrame(CauseProxyIgnored)
	}

	reply, err := frame.ARPReply(f, id.MAC, id.IP)
	if err != nil {
		log.Errorf("Switch %d: error building ARP reply for %s: %v", sw.Dpid, id.Name, err)
		return dropFrame(CauseReplyFailed)
	}

	log.Debugf("Switch %d: proxy ARP for %s (%s) to %s on port %d", sw.Dpid, id.Name, id.IP, f.Src, inPort)

	return replyLocally(reply)
}
