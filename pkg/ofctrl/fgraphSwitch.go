package ofctrl

// This file implements the forwarding graph API for the switch

import (
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"

	log "github.com/sirupsen/logrus"
)

// Initialize the fgraph elements on the switch
func (self *OFSwitch) initFgraph() {
	// Create drop action
	dropAction := new(Output)
	dropAction.outputType = "drop"
	dropAction.portNo = openflow13.P_ANY
	self.dropAction = dropAction

	// create send to controller action
	sendToCtrler := new(Output)
	sendToCtrler.outputType = "toController"
	sendToCtrler.portNo = openflow13.P_CONTROLLER
	self.sendToCtrler = sendToCtrler

	// create flood action
	floodOutput := new(Output)
	floodOutput.outputType = "flood"
	floodOutput.portNo = openflow13.P_FLOOD
	self.floodOutput = floodOutput
}

// Create a new flow in table 0. It is not installed until Next is called.
func (self *OFSwitch) NewFlow(match FlowMatch, priority uint16) *Flow {
	flow := new(Flow)
	flow.Switch = self
	flow.Match = match
	flow.Priority = priority
	flow.BufferId = NoBuffer

	return flow
}

// Create a new output graph element
func (self *OFSwitch) NewOutputPort(portNo uint32) *Output {
	output := new(Output)
	output.outputType = "port"
	output.portNo = portNo

	return output
}

// Return the drop graph element
func (self *OFSwitch) DropAction() *Output {
	return self.dropAction
}

// Return send to controller graph element
func (self *OFSwitch) SendToController() *Output {
	return self.sendToCtrler
}

// Return flood graph element
func (self *OFSwitch) FloodOutput() *Output {
	return self.floodOutput
}

const (
	tableAll = 0xff
	groupAny = 0xffffffff
)

// flowmod removing every entry of every table
func deleteAllFlowMod() *openflow13.FlowMod {
	flowMod := openflow13.NewFlowMod()
	flowMod.Command = openflow13.FC_DELETE
	flowMod.TableId = tableAll
	flowMod.OutPort = openflow13.P_ANY
	flowMod.OutGroup = groupAny
	flowMod.BufferId = NoBuffer

	return flowMod
}

// Remove all flow entries from the switch
func (self *OFSwitch) DeleteAllFlows() error {
	log.Debugf("Deleting all flows on %s", self.hwDpid)

	return self.Send(deleteAllFlowMod())
}

// Build a packet-out. The frame is attached only when no buffer id is given.
func newPacketOut(inPort uint32, bufferId uint32, data []byte, outputs []*Output) *openflow13.PacketOut {
	pktOut := openflow13.NewPacketOut()
	pktOut.InPort = inPort
	pktOut.BufferId = bufferId

	for _, output := range outputs {
		for _, act := range output.GetActions() {
			pktOut.AddAction(act)
		}
	}

	if bufferId == NoBuffer {
		pktOut.Data = util.NewBuffer(data)
	}

	return pktOut
}

// Send a packet-out on the switch
func (self *OFSwitch) SendPacketOut(inPort uint32, bufferId uint32, data []byte, outputs ...*Output) error {
	pktOut := newPacketOut(inPort, bufferId, data, outputs)

	log.Debugf("Sending packet-out on %s: in_port %d, buffer %d, %d bytes",
		self.hwDpid, inPort, bufferId, len(data))

	return self.Send(pktOut)
}
