package dispatch

import (
	"github.com/pablomguevara/my-mininet/pkg/ofctrl"
)

// Datapath backed by an openflow switch connection
type OfDatapath struct {
	sw *ofctrl.OFSwitch
}

func NewOfDatapath(sw *ofctrl.OFSwitch) *OfDatapath {
	return &OfDatapath{sw: sw}
}

// Switch behind the datapath
func (dp *OfDatapath) Switch() *ofctrl.OFSwitch {
	return dp.sw
}

func (dp *OfDatapath) outputs(actions []Action) []*ofctrl.Output {
	outputs := make([]*ofctrl.Output, 0, len(actions))
	for _, act := range actions {
		switch act.Type {
		case Output:
			outputs = append(outputs, dp.sw.NewOutputPort(act.Port))
		case Flood:
			outputs = append(outputs, dp.sw.FloodOutput())
		case Controller:
			outputs = append(outputs, dp.sw.SendToController())
		}
	}
	return outputs
}

func (dp *OfDatapath) ClearRules() error {
	return dp.sw.DeleteAllFlows()
}

func (dp *OfDatapath) InstallRule(rule *Rule) error {
	match := ofctrl.FlowMatch{
		InputPort:  rule.Match.InPort,
		Ethertype:  rule.Match.EthType,
		IpProto:    rule.Match.IpProto,
		UdpSrcPort: rule.Match.UdpSrc,
		UdpDstPort: rule.Match.UdpDst,
		ArpOper:    rule.Match.ArpOpcode,
	}
	if rule.Match.DstMac != nil {
		mac := rule.Match.DstMac
		match.MacDa = &mac
	}

	flow := dp.sw.NewFlow(match, rule.Priority)
	flow.IdleTimeout = rule.IdleTimeout
	flow.HardTimeout = rule.HardTimeout
	flow.BufferId = rule.BufferID

	return flow.Next(dp.outputs(rule.Actions)...)
}

func (dp *OfDatapath) EmitPacket(pkt *PacketOut) error {
	return dp.sw.SendPacketOut(pkt.InPort, pkt.BufferID, pkt.Data, dp.outputs(pkt.Actions)...)
}
