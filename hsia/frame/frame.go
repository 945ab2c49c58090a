package frame

// Parsed view of an ethernet frame received from a switch. Only the fields
// the forwarding engine looks at are decoded: ethernet addresses, an
// optional 802.1Q tag, ARP and the BOOTP header of DHCP.

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/krolaw/dhcp4"

	"github.com/pablomguevara/my-mininet/pkg/netutils"
)

const (
	DhcpServerPort = 67
	DhcpClientPort = 68

	// BOOTP fixed header plus the DHCP magic cookie
	dhcpMinLen = 240
	maxHLen    = 16
)

var ErrNotEthernet = errors.New("not an ethernet frame")

type ARPView struct {
	Opcode    uint16
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

func (a *ARPView) IsRequest() bool {
	return a.Opcode == layers.ARPRequest
}

type DHCPView struct {
	Op        dhcp4.OpCode
	ClientMAC net.HardwareAddr // chaddr
	Xid       []byte
	SrcPort   uint16
	DstPort   uint16
}

func (d *DHCPView) IsRequest() bool {
	return d.Op == dhcp4.BootRequest
}

type Frame struct {
	Src       net.HardwareAddr
	Dst       net.HardwareAddr
	EtherType layers.EthernetType // after any vlan tag
	Tagged    bool
	VlanID    uint16
	VlanPrio  uint8
	ARP       *ARPView  // nil unless a well formed ARP packet
	DHCP      *DHCPView // nil unless a well formed BOOTP header on port 67/68
	Raw       []byte
}

// True when the frame is addressed to the ethernet broadcast address
func (f *Frame) IsBroadcast() bool {
	return netutils.IsBroadcastMac(f.Dst)
}

func (f *Frame) String() string {
	kind := f.EtherType.String()
	switch {
	case f.ARP != nil:
		kind = fmt.Sprintf("ARP op %d %s -> %s", f.ARP.Opcode, f.ARP.SenderIP, f.ARP.TargetIP)
	case f.DHCP != nil:
		kind = fmt.Sprintf("DHCP op %d chaddr %s", f.DHCP.Op, f.DHCP.ClientMAC)
	}
	return fmt.Sprintf("%s -> %s %s", f.Src, f.Dst, kind)
}

// Parse decodes a raw frame. Only a frame without a valid ethernet header
// is an error. A broken ARP or DHCP payload leaves the matching view nil
// and the frame is handled as plain L2 traffic.
func Parse(data []byte) (*Frame, error) {
	var (
		eth     layers.Ethernet
		dot1q   layers.Dot1Q
		arp     layers.ARP
		ip4     layers.IPv4
		udp     layers.UDP
		decoded []gopacket.LayerType
	)

	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &dot1q, &arp, &ip4, &udp)
	parser.IgnoreUnsupported = true

	// errors past the ethernet header only mean a view stays empty
	parser.DecodeLayers(data, &decoded)

	f := &Frame{Raw: data}
	for _, layerType := range decoded {
		switch layerType {
		case layers.LayerTypeEthernet:
			f.Src = eth.SrcMAC
			f.Dst = eth.DstMAC
			f.EtherType = eth.EthernetType
		case layers.LayerTypeDot1Q:
			f.Tagged = true
			f.VlanID = dot1q.VLANIdentifier
			f.VlanPrio = dot1q.Priority
			f.EtherType = dot1q.Type
		case layers.LayerTypeARP:
			f.ARP = arpView(&arp)
		case layers.LayerTypeUDP:
			f.DHCP = dhcpView(&udp)
		}
	}

	if f.Src == nil {
		return nil, ErrNotEthernet
	}

	return f, nil
}

func arpView(arp *layers.ARP) *ARPView {
	if arp.AddrType != layers.LinkTypeEthernet || arp.Protocol != layers.EthernetTypeIPv4 ||
		arp.HwAddressSize != 6 || arp.ProtAddressSize != 4 {
		return nil
	}

	return &ARPView{
		Opcode:    arp.Operation,
		SenderMAC: net.HardwareAddr(arp.SourceHwAddress),
		SenderIP:  net.IP(arp.SourceProtAddress),
		TargetMAC: net.HardwareAddr(arp.DstHwAddress),
		TargetIP:  net.IP(arp.DstProtAddress),
	}
}

func isDhcpPort(port layers.UDPPort) bool {
	return port == DhcpServerPort || port == DhcpClientPort
}

func dhcpView(udp *layers.UDP) *DHCPView {
	if !isDhcpPort(udp.SrcPort) && !isDhcpPort(udp.DstPort) {
		return nil
	}

	if len(udp.Payload) < dhcpMinLen {
		return nil
	}

	p := dhcp4.Packet(udp.Payload)
	op := p.OpCode()
	if op != dhcp4.BootRequest && op != dhcp4.BootReply {
		return nil
	}

	view := &DHCPView{
		Op:      op,
		Xid:     append([]byte(nil), p.XId()...),
		SrcPort: uint16(udp.SrcPort),
		DstPort: uint16(udp.DstPort),
	}
	if p.HLen() <= maxHLen {
		view.ClientMAC = append(net.HardwareAddr(nil), p.CHAddr()...)
	}

	return view
}

// ARPReply builds the reply to an ARP request on behalf of the identity
// mac/ip. The reply goes back to the requester with the request's vlan tag.
func ARPReply(req *Frame, mac net.HardwareAddr, ip net.IP) ([]byte, error) {
	if req.ARP == nil {
		return nil, errors.New("not an ARP frame")
	}

	eth := &layers.Ethernet{
		SrcMAC:       mac,
		DstMAC:       req.Src,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   mac,
		SourceProtAddress: ip.To4(),
		DstHwAddress:      req.ARP.SenderMAC,
		DstProtAddress:    req.ARP.SenderIP.To4(),
	}

	ls := []gopacket.SerializableLayer{eth, arp}
	if req.Tagged {
		eth.EthernetType = layers.EthernetTypeDot1Q
		dot1q := &layers.Dot1Q{
			Priority:       req.VlanPrio,
			VLANIdentifier: req.VlanID,
			Type:           layers.EthernetTypeARP,
		}
		ls = []gopacket.SerializableLayer{eth, dot1q, arp}
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, ls...); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
