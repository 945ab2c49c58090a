package ofctrl

// This file implements the forwarding graph API for the flow

import (
	"net"

	"github.com/contiv/libOpenflow/openflow13"

	log "github.com/sirupsen/logrus"
)

// Small subset of openflow fields we currently support.
// Zero values are wildcards.
type FlowMatch struct {
	InputPort  uint32
	MacDa      *net.HardwareAddr
	Ethertype  uint16
	IpProto    uint8
	UdpSrcPort uint16
	UdpDstPort uint16
	ArpOper    uint16
}

// State of a flow entry
type Flow struct {
	Switch      *OFSwitch // Switch where this flow resides
	Priority    uint16    // Priority of the flow entry
	Match       FlowMatch // Fields to be matched
	IdleTimeout uint16
	HardTimeout uint16
	BufferId    uint32    // Buffered packet to release through the flow
	Outputs     []*Output // Where matching packets go
}

// Translate our match fields into openflow 1.3 match fields
func (self *Flow) xlateMatch() openflow13.Match {
	ofMatch := openflow13.NewMatch()

	if self.Match.InputPort != 0 {
		inportField := openflow13.NewInPortField(self.Match.InputPort)
		ofMatch.AddField(*inportField)
	}

	if self.Match.MacDa != nil {
		macDaField := openflow13.NewEthDstField(*self.Match.MacDa, nil)
		ofMatch.AddField(*macDaField)
	}

	if self.Match.Ethertype != 0 {
		etypeField := openflow13.NewEthTypeField(self.Match.Ethertype)
		ofMatch.AddField(*etypeField)
	}

	if self.Match.IpProto != 0 {
		protoField := openflow13.NewIpProtoField(self.Match.IpProto)
		ofMatch.AddField(*protoField)
	}

	if self.Match.UdpSrcPort != 0 {
		udpSrcField := openflow13.NewUdpSrcField(self.Match.UdpSrcPort)
		ofMatch.AddField(*udpSrcField)
	}

	if self.Match.UdpDstPort != 0 {
		udpDstField := openflow13.NewUdpDstField(self.Match.UdpDstPort)
		ofMatch.AddField(*udpDstField)
	}

	if self.Match.ArpOper != 0 {
		arpOperField := openflow13.NewArpOperField(self.Match.ArpOper)
		ofMatch.AddField(*arpOperField)
	}

	return *ofMatch
}

// Build the flowmod for the flow entry
func (self *Flow) flowMod() *openflow13.FlowMod {
	flowMod := openflow13.NewFlowMod()
	flowMod.TableId = 0
	flowMod.Priority = self.Priority
	flowMod.IdleTimeout = self.IdleTimeout
	flowMod.HardTimeout = self.HardTimeout
	flowMod.BufferId = self.BufferId

	// Adding over an identical match and priority replaces the entry
	flowMod.Command = openflow13.FC_ADD

	// convert match fields to openflow 1.3 format
	flowMod.Match = self.xlateMatch()

	// a nil instruction means drop action
	if instr := outputInstr(self.Outputs); instr != nil {
		flowMod.AddInstruction(instr)
	}

	return flowMod
}

// Install a flow entry
func (self *Flow) install() error {
	flowMod := self.flowMod()

	log.Debugf("Sending flowmod: %+v", flowMod)

	return self.Switch.Send(flowMod)
}

// Set the outputs of the flow and install it
func (self *Flow) Next(outputs ...*Output) error {
	self.Outputs = outputs

	return self.install()
}
