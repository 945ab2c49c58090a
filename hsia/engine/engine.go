package engine

// Classification of frames punted to the controller. Given the frame and
// its ingress port the engine picks one decision: answer locally (proxy
// ARP), flood, drop or forward to a learned port. It updates the switch's
// mac table on the way.

import (
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/pablomguevara/my-mininet/hsia/frame"
	"github.com/pablomguevara/my-mininet/hsia/macTable"
	"github.com/pablomguevara/my-mininet/hsia/roleTable"
)

// Well known network identity. The ARP proxy answers for it.
type Identity struct {
	Name string
	MAC  net.HardwareAddr
	IP   net.IP
}

type Policy struct {
	// Flood unicast ARP from the uplink to an unknown destination instead
	// of dropping it
	FloodUnknownUnicastUplink bool
}

// Per switch state the engine reads and updates. Owned by the switch's
// worker for the duration of one event.
type SwitchContext struct {
	Dpid  uint64
	Roles *roleTable.PortRoles // nil when the switch is not configured
	Macs  *macTable.Table
}

type Engine struct {
	gateway    Identity
	dhcpServer Identity
	policy     Policy
}

func NewEngine(gateway, dhcpServer Identity, policy Policy) *Engine {
	return &Engine{
		gateway:    gateway,
		dhcpServer: dhcpServer,
		policy:     policy,
	}
}

// Identities answered for by the ARP proxy
func (e *Engine) Identities() []Identity {
	return []Identity{e.gateway, e.dhcpServer}
}

// Classify a frame received on inPort of a switch
func (e *Engine) Classify(sw *SwitchContext, inPort uint32, f *frame.Frame) Decision {
	if sw.Roles == nil {
		return dropFrame(CauseMisconfigured)
	}

	var decision Decision
	switch {
	case f.ARP != nil:
		decision = e.handleArp(sw, inPort, f)
	case f.DHCP != nil:
		decision = e.handleDhcp(sw, inPort, f)
	default:
		decision = e.forward(sw, inPort, f)
	}

	log.Debugf("Switch %d port %d: %s => %s", sw.Dpid, inPort, f, decision)

	return decision
}
