// Package frameTest builds raw frames for tests of the forwarding pipeline
package frameTest

import (
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/krolaw/dhcp4"
)

var Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func MustMAC(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return mac
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func arpFrame(op uint16, src, dst net.HardwareAddr, srcIP, dstIP string, targetMAC net.HardwareAddr, vlan uint16) []byte {
	eth := &layers.Ethernet{SrcMAC: src, DstMAC: dst, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   src,
		SourceProtAddress: net.ParseIP(srcIP).To4(),
		DstHwAddress:      targetMAC,
		DstProtAddress:    net.ParseIP(dstIP).To4(),
	}

	if vlan != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		dot1q := &layers.Dot1Q{VLANIdentifier: vlan, Type: layers.EthernetTypeARP}
		return serialize(eth, dot1q, arp)
	}
	return serialize(eth, arp)
}

// Broadcast ARP request from src asking for targetIP
func ArpRequest(src net.HardwareAddr, srcIP, targetIP string) []byte {
	return arpFrame(layers.ARPRequest, src, Broadcast, srcIP, targetIP, make(net.HardwareAddr, 6), 0)
}

// Broadcast ARP request carrying an 802.1Q tag
func TaggedArpRequest(src net.HardwareAddr, srcIP, targetIP string, vlan uint16) []byte {
	return arpFrame(layers.ARPRequest, src, Broadcast, srcIP, targetIP, make(net.HardwareAddr, 6), vlan)
}

// Unicast ARP request to dst
func UnicastArpRequest(src, dst net.HardwareAddr, srcIP, targetIP string) []byte {
	return arpFrame(layers.ARPRequest, src, dst, srcIP, targetIP, make(net.HardwareAddr, 6), 0)
}

// ARP reply from src to dst
func ArpReply(src, dst net.HardwareAddr, srcIP, dstIP string) []byte {
	return arpFrame(layers.ARPReply, src, dst, srcIP, dstIP, dst, 0)
}

func udpFrame(src, dst net.HardwareAddr, srcIP, dstIP string, srcPort, dstPort uint16, payload []byte) []byte {
	eth := &layers.Ethernet{SrcMAC: src, DstMAC: dst, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	udp.SetNetworkLayerForChecksum(ip)

	return serialize(eth, ip, udp, gopacket.Payload(payload))
}

// DHCP discover from client, broadcast to the server port
func DhcpRequest(client net.HardwareAddr) []byte {
	req := dhcp4.RequestPacket(dhcp4.Discover, client, nil, []byte{0xde, 0xad, 0xbe, 0xef}, true, nil)
	return udpFrame(client, Broadcast, "0.0.0.0", "255.255.255.255", 68, 67, req)
}

// DHCP offer from server to client. dst is the ethernet destination,
// either the client mac or broadcast.
func DhcpReply(server, client, dst net.HardwareAddr) []byte {
	req := dhcp4.RequestPacket(dhcp4.Discover, client, nil, []byte{0xde, 0xad, 0xbe, 0xef}, true, nil)
	reply := dhcp4.ReplyPacket(req, dhcp4.Offer, net.IPv4(10, 0, 0, 254), net.IPv4(10, 0, 0, 10), time.Hour, nil)
	return udpFrame(server, dst, "10.0.0.254", "255.255.255.255", 67, 68, reply)
}

// UDP frame on the DHCP ports too short to hold a BOOTP header
func TruncatedDhcp(src, dst net.HardwareAddr) []byte {
	return udpFrame(src, dst, "10.0.0.10", "10.0.0.254", 68, 67, []byte{1, 1, 6, 0})
}

// Plain IPv4/UDP frame
func Unicast(src, dst net.HardwareAddr) []byte {
	return udpFrame(src, dst, "10.0.0.10", "10.0.0.20", 5000, 5001, []byte("hello"))
}
