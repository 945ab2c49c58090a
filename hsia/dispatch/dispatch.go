package dispatch

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/pablomguevara/my-mininet/hsia/engine"
	"github.com/pablomguevara/my-mininet/hsia/frame"
)

// Forwarding plane of one switch
type Datapath interface {
	// Remove every rule, including those of an earlier connection
	ClearRules() error
	InstallRule(rule *Rule) error
	EmitPacket(pkt *PacketOut) error
}

// Frame punted by a switch
type PacketIn struct {
	InPort   uint32
	BufferID uint32
	Frame    *frame.Frame
}

// data to attach to a packet-out, nothing when the switch buffered it
func (p *PacketIn) data() []byte {
	if p.BufferID != NoBuffer {
		return nil
	}
	return p.Frame.Raw
}

// Apply carries out a forwarding decision on the datapath:
// - drop does nothing
// - flood sends the packet out once, never as a rule
// - forward installs an (in_port, eth_dst) rule and releases the packet,
//   through the rule when the switch buffered it
// - local replies go out the ingress port only
func Apply(dp Datapath, pkt *PacketIn, decision engine.Decision) error {
	switch decision.Type {
	case engine.Drop:
		return nil

	case engine.FloodAll:
		return dp.EmitPacket(&PacketOut{
			InPort:   pkt.InPort,
			BufferID: pkt.BufferID,
			Data:     pkt.data(),
			Actions:  []Action{{Type: Flood}},
		})

	case engine.ForwardToPort:
		rule := LearnedRule(pkt.InPort, pkt.Frame.Dst, decision.Port, pkt.BufferID)
		if err := dp.InstallRule(rule); err != nil {
			return fmt.Errorf("installing %s: %w", rule, err)
		}

		if pkt.BufferID != NoBuffer {
			return nil
		}

		log.Debugf("Sending %d bytes out port %d after installing %s", len(pkt.Frame.Raw), decision.Port, rule)

		return dp.EmitPacket(&PacketOut{
			InPort:   pkt.InPort,
			BufferID: NoBuffer,
			Data:     pkt.Frame.Raw,
			Actions:  []Action{OutputTo(decision.Port)},
		})

	case engine.ReplyLocally:
		return dp.EmitPacket(&PacketOut{
			InPort:   PortController,
			BufferID: NoBuffer,
			Data:     decision.Reply,
			Actions:  []Action{OutputTo(pkt.InPort)},
		})
	}

	return fmt.Errorf("unknown decision %s", decision)
}
