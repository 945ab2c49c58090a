package ofctrl

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/contiv/libOpenflow/openflow13"

	log "github.com/sirupsen/logrus"
)

// Build a raw packet-in carrying an in_port OXM and the given frame
func rawPacketIn(inPort uint32, bufferId uint32, frame []byte) []byte {
	b := make([]byte, 42+len(frame))
	b[0] = openflow13.VERSION
	b[1] = openflow13.Type_PacketIn
	binary.BigEndian.PutUint16(b[2:], uint16(len(b)))
	binary.BigEndian.PutUint32(b[8:], bufferId)
	binary.BigEndian.PutUint16(b[12:], uint16(len(frame)))

	// match: type OXM, length 12, single in_port field
	binary.BigEndian.PutUint16(b[24:], 1)
	binary.BigEndian.PutUint16(b[26:], 12)
	binary.BigEndian.PutUint32(b[28:], oxmClassBasic<<16|oxmFieldInPort<<9|4)
	binary.BigEndian.PutUint32(b[32:], inPort)

	copy(b[42:], frame)
	return b
}

func testFrame() []byte {
	frame := make([]byte, 60)
	copy(frame[0:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	copy(frame[6:12], []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x01})
	binary.BigEndian.PutUint16(frame[12:], 0x0806)
	return frame
}

func TestPacketInParse(t *testing.T) {
	ctrler := NewController(nil)
	frame := testFrame()

	msg, err := ctrler.Parse(rawPacketIn(3, NoBuffer, frame))
	if err != nil {
		t.Fatalf("Error parsing packet-in: %v", err)
	}

	pkt, ok := msg.(*PacketIn)
	if !ok {
		t.Fatalf("Unexpected message type %T", msg)
	}

	if pkt.InPort != 3 || pkt.BufferId != NoBuffer {
		t.Errorf("Unexpected packet-in fields: in_port %d, buffer %x", pkt.InPort, pkt.BufferId)
	}
	if !bytes.Equal(pkt.Frame, frame) {
		t.Errorf("Frame mismatch. Got %x, expected %x", pkt.Frame, frame)
	}

	log.Infof("Parsed packet-in: in_port %d, %d bytes", pkt.InPort, len(pkt.Frame))
}

func TestPacketInBadMatch(t *testing.T) {
	b := rawPacketIn(1, NoBuffer, testFrame())

	// match length beyond the message
	binary.BigEndian.PutUint16(b[26:], 200)
	if _, _, err := splitPacketIn(b); err == nil {
		t.Errorf("Expected error for oversized match")
	}

	if _, err := NewController(nil).Parse(b[:4]); err != errShortMessage {
		t.Errorf("Expected short message error. Got %v", err)
	}
}

func TestPortDescReply(t *testing.T) {
	reply := &PortDescReply{
		Xid: 7,
		Ports: []Port{
			{PortNo: 1, HWAddr: net.HardwareAddr{0, 0, 0, 0, 1, 1}, Name: "s1-eth1"},
			{PortNo: 2, HWAddr: net.HardwareAddr{0, 0, 0, 0, 1, 2}, Name: "s1-eth2"},
			{PortNo: openflow13.P_LOCAL, Name: "s1"},
		},
	}

	b, err := reply.MarshalBinary()
	if err != nil {
		t.Fatalf("Error marshaling port desc reply: %v", err)
	}

	msg, err := NewController(nil).Parse(b)
	if err != nil {
		t.Fatalf("Error parsing port desc reply: %v", err)
	}

	parsed, ok := msg.(*PortDescReply)
	if !ok {
		t.Fatalf("Unexpected message type %T", msg)
	}
	if parsed.More || len(parsed.Ports) != 3 {
		t.Fatalf("Unexpected reply: %+v", parsed)
	}
	if parsed.Ports[1].Name != "s1-eth2" || parsed.Ports[2].PortNo != openflow13.P_LOCAL {
		t.Errorf("Port mismatch: %+v", parsed.Ports)
	}
}

func TestPortStatus(t *testing.T) {
	status := &PortStatus{Reason: PortDeleted, Desc: Port{PortNo: 4, Name: "s1-eth4"}}
	b, _ := status.MarshalBinary()

	msg, err := NewController(nil).Parse(b)
	if err != nil {
		t.Fatalf("Error parsing port status: %v", err)
	}

	parsed, ok := msg.(*PortStatus)
	if !ok {
		t.Fatalf("Unexpected message type %T", msg)
	}
	if parsed.Reason != PortDeleted || parsed.Desc.PortNo != 4 {
		t.Errorf("Unexpected port status: %+v", parsed)
	}
}

func TestSwitchPortTracking(t *testing.T) {
	sw := &OFSwitch{ports: []Port{{PortNo: 1}, {PortNo: 2}}}

	sw.portStatusRcvd(&PortStatus{Reason: PortAdded, Desc: Port{PortNo: 3}})
	sw.portStatusRcvd(&PortStatus{Reason: PortDeleted, Desc: Port{PortNo: 1}})
	sw.portStatusRcvd(&PortStatus{Reason: PortModified, Desc: Port{PortNo: 2, Name: "eth2"}})

	ports := sw.Ports()
	if len(ports) != 2 || ports[0] != 2 || ports[1] != 3 {
		t.Errorf("Unexpected ports after status updates: %v", ports)
	}
}

func TestFlowMatch(t *testing.T) {
	sw := &OFSwitch{}
	sw.initFgraph()

	mac, _ := net.ParseMAC("00:00:00:bb:bb:bb")
	flow := sw.NewFlow(FlowMatch{
		InputPort:  2,
		MacDa:      &mac,
		Ethertype:  0x0800,
		IpProto:    17,
		UdpSrcPort: 68,
		UdpDstPort: 67,
	}, 102)

	match := flow.xlateMatch()
	if len(match.Fields) != 6 {
		t.Fatalf("Expected 6 match fields. Got %d", len(match.Fields))
	}
	if match.Fields[0].Field != openflow13.OXM_FIELD_IN_PORT {
		t.Errorf("Expected in_port first. Got field %d", match.Fields[0].Field)
	}

	// table-miss matches everything
	miss := sw.NewFlow(FlowMatch{}, 0)
	if fields := miss.xlateMatch().Fields; len(fields) != 0 {
		t.Errorf("Expected empty match. Got %d fields", len(fields))
	}

	flow.Outputs = []*Output{sw.NewOutputPort(2), sw.SendToController()}
	flowMod := flow.flowMod()
	if flowMod.Priority != 102 || flowMod.BufferId != NoBuffer || len(flowMod.Instructions) != 1 {
		t.Errorf("Unexpected flowmod: %+v", flowMod)
	}
	if flowMod.Command != openflow13.FC_ADD {
		t.Errorf("Expected add command. Got %d", flowMod.Command)
	}

	flow.Outputs = []*Output{sw.DropAction()}
	if flowMod = flow.flowMod(); len(flowMod.Instructions) != 0 {
		t.Errorf("Drop flow should carry no instructions: %+v", flowMod)
	}
}

func TestOutputActions(t *testing.T) {
	sw := &OFSwitch{}
	sw.initFgraph()

	ctrlAct := sw.SendToController().GetActions()
	if len(ctrlAct) != 1 {
		t.Fatalf("Expected one controller action")
	}
	output := ctrlAct[0].(*openflow13.ActionOutput)
	if output.Port != openflow13.P_CONTROLLER || output.MaxLen != openflow13.OFPCML_NO_BUFFER {
		t.Errorf("Unexpected controller action: %+v", output)
	}

	if acts := sw.DropAction().GetActions(); len(acts) != 0 {
		t.Errorf("Drop should have no actions")
	}

	pktOut := newPacketOut(5, NoBuffer, testFrame(), []*Output{sw.FloodOutput()})
	if pktOut.InPort != 5 || pktOut.Data == nil || len(pktOut.Actions) != 1 {
		t.Errorf("Unexpected packet-out: %+v", pktOut)
	}

	pktOut = newPacketOut(5, 42, testFrame(), []*Output{sw.NewOutputPort(1)})
	if pktOut.BufferId != 42 || pktOut.Data != nil {
		t.Errorf("Buffered packet-out should not carry data: %+v", pktOut)
	}
}

func TestDpidToUint64(t *testing.T) {
	dpid := net.HardwareAddr{0, 0, 0, 0, 0, 0, 0x01, 0x02}
	if DpidToUint64(dpid) != 0x0102 {
		t.Errorf("Unexpected dpid value %x", DpidToUint64(dpid))
	}
}

func TestDeleteAllFlowMod(t *testing.T) {
	flowMod := deleteAllFlowMod()

	if flowMod.Command != openflow13.FC_DELETE || flowMod.TableId != 0xff {
		t.Errorf("Expected delete over all tables. Got command %d table %d", flowMod.Command, flowMod.TableId)
	}
	if flowMod.OutPort != openflow13.P_ANY || flowMod.OutGroup != 0xffffffff || flowMod.BufferId != NoBuffer {
		t.Errorf("Delete should not filter on port or group: %+v", flowMod)
	}
	if len(flowMod.Match.Fields) != 0 || len(flowMod.Instructions) != 0 {
		t.Errorf("Delete should match everything: %+v", flowMod)
	}
}

func TestControllerServeDelete(t *testing.T) {
	ctrler := NewController(nil)

	if err := ctrler.Serve(); err != ErrNotBound {
		t.Errorf("Expected not bound error. Got %v", err)
	}

	if err := ctrler.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("Error binding: %v", err)
	}
	if ctrler.Addr() == nil {
		t.Fatalf("No address after bind")
	}

	done := make(chan error, 1)
	go func() {
		done <- ctrler.Serve()
	}()

	ctrler.Delete()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v after delete", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after delete")
	}

	if err := ctrler.Bind("127.0.0.1:0"); err != ErrControllerDeleted {
		t.Errorf("Bind after delete: expected %v. Got %v", ErrControllerDeleted, err)
	}
}
