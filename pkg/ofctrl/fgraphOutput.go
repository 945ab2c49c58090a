package ofctrl

// This file implements the forwarding graph API for the output element

import (
	"github.com/contiv/libOpenflow/openflow13"
)

type Output struct {
	outputType string // Output type: "drop", "toController", "flood" or "port"
	portNo     uint32 // Output port number
}

// Openflow actions for the output element. Drop has none.
func (self *Output) GetActions() []openflow13.Action {
	switch self.outputType {
	case "toController":
		outputAct := openflow13.NewActionOutput(openflow13.P_CONTROLLER)
		// Dont buffer the packets being sent to controller
		outputAct.MaxLen = openflow13.OFPCML_NO_BUFFER
		return []openflow13.Action{outputAct}
	case "flood":
		return []openflow13.Action{openflow13.NewActionOutput(openflow13.P_FLOOD)}
	case "port":
		return []openflow13.Action{openflow13.NewActionOutput(self.portNo)}
	}

	return nil
}

// instruction set for a list of output elements. nil means drop.
func outputInstr(outputs []*Output) openflow13.Instruction {
	var instr *openflow13.InstrActions

	for _, output := range outputs {
		for _, act := range output.GetActions() {
			if instr == nil {
				instr = openflow13.NewInstrApplyActions()
			}
			instr.AddAction(act, false)
		}
	}

	if instr == nil {
		return nil
	}
	return instr
}
