package dispatch

// Flow rules and packet-outs as the forwarding engine sees them. Translated
// to openflow by the datapath.

import (
	"fmt"
	"net"
	"strings"

	"github.com/pablomguevara/my-mininet/hsia/roleTable"
	"github.com/pablomguevara/my-mininet/pkg/netutils"
)

const (
	PriorityTableMiss = 0
	PriorityLearned   = 1
	PriorityToGateway = 100
	PriorityRedirect  = 102

	// Buffer id of packets that are not buffered on the switch
	NoBuffer uint32 = 0xffffffff

	// Reserved openflow ports
	PortMax        uint32 = 0xffffff00
	PortController uint32 = 0xfffffffd

	EthTypeIPv4 = 0x0800
	EthTypeARP  = 0x0806
	IpProtoUDP  = 17
)

type ActionType int

const (
	Output ActionType = iota
	Flood
	Controller
)

type Action struct {
	Type ActionType
	Port uint32 // Output only
}

func (a Action) String() string {
	switch a.Type {
	case Flood:
		return "flood"
	case Controller:
		return "controller"
	}
	return fmt.Sprintf("output:%d", a.Port)
}

func OutputTo(port uint32) Action {
	return Action{Type: Output, Port: port}
}

// Zero fields are wildcards
type MatchSpec struct {
	InPort    uint32
	DstMac    net.HardwareAddr
	EthType   uint16
	IpProto   uint8
	UdpSrc    uint16
	UdpDst    uint16
	ArpOpcode uint16
}

func (m MatchSpec) String() string {
	var fields []string
	if m.InPort != 0 {
		fields = append(fields, fmt.Sprintf("in_port=%d", m.InPort))
	}
	if m.DstMac != nil {
		fields = append(fields, fmt.Sprintf("eth_dst=%s", m.DstMac))
	}
	if m.EthType != 0 {
		fields = append(fields, fmt.Sprintf("eth_type=0x%04x", m.EthType))
	}
	if m.IpProto != 0 {
		fields = append(fields, fmt.Sprintf("ip_proto=%d", m.IpProto))
	}
	if m.UdpSrc != 0 {
		fields = append(fields, fmt.Sprintf("udp_src=%d", m.UdpSrc))
	}
	if m.UdpDst != 0 {
		fields = append(fields, fmt.Sprintf("udp_dst=%d", m.UdpDst))
	}
	if m.ArpOpcode != 0 {
		fields = append(fields, fmt.Sprintf("arp_op=%d", m.ArpOpcode))
	}
	if len(fields) == 0 {
		return "any"
	}
	return strings.Join(fields, ",")
}

// Flow rule in table 0. BufferID is NoBuffer unless the rule releases a
// packet buffered on the switch.
type Rule struct {
	Priority    uint16
	Match       MatchSpec
	Actions     []Action
	IdleTimeout uint16
	HardTimeout uint16
	BufferID    uint32
}

func (r *Rule) String() string {
	acts := make([]string, len(r.Actions))
	for i, act := range r.Actions {
		acts[i] = act.String()
	}
	return fmt.Sprintf("priority=%d,%s actions=%s", r.Priority, r.Match, strings.Join(acts, ","))
}

// Single packet sent by the controller. Data is only used when BufferID
// is NoBuffer.
type PacketOut struct {
	InPort   uint32
	BufferID uint32
	Data     []byte
	Actions  []Action
}

// True for reserved openflow ports like LOCAL, which are never downlinks
func IsReservedPort(port uint32) bool {
	return port >= PortMax
}

// Lowest priority rule punting everything unmatched to the controller
func TableMissRule() *Rule {
	return &Rule{
		Priority: PriorityTableMiss,
		Actions:  []Action{{Type: Controller}},
		BufferID: NoBuffer,
	}
}

// Static rules of a downlink port:
// - everything goes to the gateway
// - DHCP requests go to the dhcp server and the controller
// - broadcast ARP goes to the gateway and the controller
func DownlinkRules(port uint32, roles *roleTable.PortRoles) []*Rule {
	return []*Rule{
		{
			Priority: PriorityToGateway,
			Match:    MatchSpec{InPort: port},
			Actions:  []Action{OutputTo(roles.GatewayPort)},
			BufferID: NoBuffer,
		},
		{
			Priority: PriorityRedirect,
			Match: MatchSpec{
				InPort:  port,
				EthType: EthTypeIPv4,
				IpProto: IpProtoUDP,
				UdpSrc:  68,
				UdpDst:  67,
			},
			Actions:  []Action{OutputTo(roles.DhcpServerPort), {Type: Controller}},
			BufferID: NoBuffer,
		},
		{
			Priority: PriorityRedirect,
			Match: MatchSpec{
				InPort:  port,
				EthType: EthTypeARP,
				DstMac:  netutils.BroadcastMac,
			},
			Actions:  []Action{OutputTo(roles.GatewayPort), {Type: Controller}},
			BufferID: NoBuffer,
		},
	}
}

// Rule caching a forwarding decision for (in_port, eth_dst)
func LearnedRule(inPort uint32, dst net.HardwareAddr, outPort uint32, bufferID uint32) *Rule {
	return &Rule{
		Priority: PriorityLearned,
		Match:    MatchSpec{InPort: inPort, DstMac: dst},
		Actions:  []Action{OutputTo(outPort)},
		BufferID: bufferID,
	}
}
