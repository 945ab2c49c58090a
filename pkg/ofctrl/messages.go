package ofctrl

// This file implements the few openflow 1.3 messages the controller
// decodes by hand: port description, port status and the raw part of
// packet-in.

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/contiv/libOpenflow/openflow13"

	log "github.com/sirupsen/logrus"
)

const (
	ofpHeaderLen    = 8
	ofpPortLen      = 64
	ofpMpHeaderLen  = 16 // header + type + flags + pad
	ofpPortStatLen  = 80
	ofpPacketInHdr  = 24 // header up to the match
	oxmClassBasic   = 0x8000
	oxmFieldInPort  = 0
	mpTypePortDesc  = 13
	mpFlagReplyMore = 1

	// Reserved port numbers start here (OFPP_MAX)
	PortMax uint32 = 0xffffff00

	// Buffer id carried by unbuffered packet-ins
	NoBuffer uint32 = 0xffffffff
)

// Port status reasons
const (
	PortAdded    uint8 = 0
	PortDeleted  uint8 = 1
	PortModified uint8 = 2
)

var errShortMessage = errors.New("openflow message too short")

// Port is the subset of ofp_port the controller cares about
type Port struct {
	PortNo uint32
	HWAddr net.HardwareAddr
	Name   string
	Config uint32
	State  uint32
}

func parsePort(b []byte) Port {
	return Port{
		PortNo: binary.BigEndian.Uint32(b[0:]),
		HWAddr: net.HardwareAddr(append([]byte(nil), b[8:14]...)),
		Name:   string(bytes.TrimRight(b[16:32], "\x00")),
		Config: binary.BigEndian.Uint32(b[32:]),
		State:  binary.BigEndian.Uint32(b[36:]),
	}
}

func (p *Port) marshal(b []byte) {
	binary.BigEndian.PutUint32(b[0:], p.PortNo)
	copy(b[8:14], p.HWAddr)
	copy(b[16:32], p.Name)
	binary.BigEndian.PutUint32(b[32:], p.Config)
	binary.BigEndian.PutUint32(b[36:], p.State)
}

// PortDescRequest asks the switch for the description of all its ports
type PortDescRequest struct {
	Xid uint32
}

func (r *PortDescRequest) Len() uint16 {
	return ofpMpHeaderLen
}

func (r *PortDescRequest) MarshalBinary() ([]byte, error) {
	data := make([]byte, ofpMpHeaderLen)
	data[0] = openflow13.VERSION
	data[1] = openflow13.Type_MultiPartRequest
	binary.BigEndian.PutUint16(data[2:], ofpMpHeaderLen)
	binary.BigEndian.PutUint32(data[4:], r.Xid)
	binary.BigEndian.PutUint16(data[8:], mpTypePortDesc)
	return data, nil
}

func (r *PortDescRequest) UnmarshalBinary(data []byte) error {
	if len(data) < ofpMpHeaderLen {
		return errShortMessage
	}
	r.Xid = binary.BigEndian.Uint32(data[4:])
	return nil
}

// PortDescReply lists the ports of a switch. More is set when the switch
// splits the list over several replies.
type PortDescReply struct {
	Xid   uint32
	More  bool
	Ports []Port
}

func (r *PortDescReply) Len() uint16 {
	return uint16(ofpMpHeaderLen + len(r.Ports)*ofpPortLen)
}

func (r *PortDescReply) MarshalBinary() ([]byte, error) {
	data := make([]byte, int(r.Len()))
	data[0] = openflow13.VERSION
	data[1] = openflow13.Type_MultiPartReply
	binary.BigEndian.PutUint16(data[2:], r.Len())
	binary.BigEndian.PutUint32(data[4:], r.Xid)
	binary.BigEndian.PutUint16(data[8:], mpTypePortDesc)
	if r.More {
		binary.BigEndian.PutUint16(data[10:], mpFlagReplyMore)
	}
	for i := range r.Ports {
		r.Ports[i].marshal(data[ofpMpHeaderLen+i*ofpPortLen:])
	}
	return data, nil
}

func (r *PortDescReply) UnmarshalBinary(data []byte) error {
	if len(data) < ofpMpHeaderLen {
		return errShortMessage
	}
	length := int(binary.BigEndian.Uint16(data[2:]))
	if length > len(data) {
		return errShortMessage
	}

	r.Xid = binary.BigEndian.Uint32(data[4:])
	r.More = binary.BigEndian.Uint16(data[10:])&mpFlagReplyMore != 0
	r.Ports = nil
	for off := ofpMpHeaderLen; off+ofpPortLen <= length; off += ofpPortLen {
		r.Ports = append(r.Ports, parsePort(data[off:]))
	}
	return nil
}

func isPortDescReply(b []byte) bool {
	return len(b) >= ofpMpHeaderLen && binary.BigEndian.Uint16(b[8:]) == mpTypePortDesc
}

func parsePortDescReply(b []byte) (*PortDescReply, error) {
	reply := new(PortDescReply)
	if err := reply.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return reply, nil
}

// PortStatus reports a port being added, removed or modified
type PortStatus struct {
	Xid    uint32
	Reason uint8
	Desc   Port
}

func (s *PortStatus) Len() uint16 {
	return ofpPortStatLen
}

func (s *PortStatus) MarshalBinary() ([]byte, error) {
	data := make([]byte, ofpPortStatLen)
	data[0] = openflow13.VERSION
	data[1] = openflow13.Type_PortStatus
	binary.BigEndian.PutUint16(data[2:], ofpPortStatLen)
	binary.BigEndian.PutUint32(data[4:], s.Xid)
	data[8] = s.Reason
	s.Desc.marshal(data[16:])
	return data, nil
}

func (s *PortStatus) UnmarshalBinary(data []byte) error {
	if len(data) < ofpPortStatLen {
		return errShortMessage
	}
	s.Xid = binary.BigEndian.Uint32(data[4:])
	s.Reason = data[8]
	s.Desc = parsePort(data[16:])
	return nil
}

func parsePortStatus(b []byte) (*PortStatus, error) {
	status := new(PortStatus)
	if err := status.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return status, nil
}

// PacketIn is a packet-in message along with its ingress port and a copy
// of the frame it carried
type PacketIn struct {
	openflow13.PacketIn
	InPort   uint32
	BufferId uint32
	Frame    []byte
}

func parsePacketIn(b []byte) (*PacketIn, error) {
	if len(b) < ofpPacketInHdr+4 {
		return nil, errShortMessage
	}

	pkt := new(PacketIn)

	// libOpenflow's view is informational only, the raw fields below
	// are what the application consumes
	if err := pkt.PacketIn.UnmarshalBinary(b); err != nil {
		log.Debugf("libOpenflow could not decode packet-in: %v", err)
	}

	pkt.BufferId = binary.BigEndian.Uint32(b[8:])

	inPort, frame, err := splitPacketIn(b)
	if err != nil {
		return nil, err
	}
	pkt.InPort = inPort
	pkt.Frame = frame

	return pkt, nil
}

// splitPacketIn walks the OXM match of a raw packet-in and returns the
// in_port field and a copy of the trailing frame
func splitPacketIn(b []byte) (uint32, []byte, error) {
	matchLen := int(binary.BigEndian.Uint16(b[ofpPacketInHdr+2:]))
	if matchLen < 4 {
		return 0, nil, fmt.Errorf("invalid packet-in match length %d", matchLen)
	}

	var inPort uint32
	for off := ofpPacketInHdr + 4; off+4 <= ofpPacketInHdr+matchLen && off+4 <= len(b); {
		oxm := binary.BigEndian.Uint32(b[off:])
		class := uint16(oxm >> 16)
		field := uint8(oxm>>9) & 0x7f
		length := int(oxm & 0xff)
		if class == oxmClassBasic && field == oxmFieldInPort && length == 4 && off+8 <= len(b) {
			inPort = binary.BigEndian.Uint32(b[off+4:])
		}
		off += 4 + length
	}

	// match is padded to 8 bytes and followed by 2 bytes of pad
	dataOff := ofpPacketInHdr + (matchLen+7)/8*8 + 2
	msgLen := int(binary.BigEndian.Uint16(b[2:]))
	if msgLen > len(b) {
		msgLen = len(b)
	}
	if dataOff > msgLen {
		return 0, nil, fmt.Errorf("packet-in data offset %d beyond message length %d", dataOff, msgLen)
	}

	frame := make([]byte, msgLen-dataOff)
	copy(frame, b[dataOff:msgLen])

	return inPort, frame, nil
}
