package ofctrl

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/contiv/libOpenflow/common"
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"

	log "github.com/sirupsen/logrus"
)

const sendTimeout = 5 * time.Second

var ErrSendTimeout = errors.New("timed out sending to switch")

type OFSwitch struct {
	stream *util.MessageStream
	ctrl   *Controller
	dpid   uint64
	hwDpid net.HardwareAddr

	portMutex sync.Mutex
	ports     []Port
	pending   []Port // port desc replies still being collected
	connected bool   // SwitchConnected was delivered

	dropAction   *Output
	sendToCtrler *Output
	floodOutput  *Output
}

// Builds a switch for a connection that completed the features exchange
// and asks it for its ports. The application hears about the switch once
// the port list is complete.
func NewSwitch(stream *util.MessageStream, dpid net.HardwareAddr, c *Controller) *OFSwitch {
	sw := new(OFSwitch)
	sw.stream = stream
	sw.ctrl = c
	sw.hwDpid = dpid
	sw.dpid = DpidToUint64(dpid)

	sw.initFgraph()

	log.Infof("Openflow connection for switch: %s", dpid)

	if err := sw.Send(&PortDescRequest{}); err != nil {
		log.Errorf("Error requesting ports of switch %s: %v", dpid, err)
	}

	return sw
}

// DpidToUint64 converts the 8 byte datapath id to its numeric form
func DpidToUint64(dpid net.HardwareAddr) uint64 {
	var buf [8]byte
	if len(dpid) > 8 {
		dpid = dpid[len(dpid)-8:]
	}
	copy(buf[8-len(dpid):], dpid)
	return binary.BigEndian.Uint64(buf[:])
}

// Returns the numeric dpid of the switch
func (sw *OFSwitch) DPID() uint64 {
	return sw.dpid
}

// Returns the port numbers the switch reported
func (sw *OFSwitch) Ports() []uint32 {
	sw.portMutex.Lock()
	defer sw.portMutex.Unlock()

	portNos := make([]uint32, 0, len(sw.ports))
	for _, port := range sw.ports {
		portNos = append(portNos, port.PortNo)
	}

	return portNos
}

// Sends an OpenFlow message to this Switch. Gives up if the connection
// does not take the message in time.
func (sw *OFSwitch) Send(req util.Message) error {
	select {
	case sw.stream.Outbound <- req:
		return nil
	case <-time.After(sendTimeout):
		return ErrSendTimeout
	}
}

// Receive loop for each Switch.
func (sw *OFSwitch) receive() {
	for {
		select {
		case msg := <-sw.stream.Inbound:
			sw.handleMessage(msg)
		case err := <-sw.stream.Error:
			log.Infof("Switch %s disconnected: %v", sw.hwDpid, err)

			if sw.connected {
				sw.ctrl.app.SwitchDisconnected(sw)
			}
			return
		}
	}
}

func (sw *OFSwitch) handleMessage(msg util.Message) {
	switch t := msg.(type) {
	case *common.Header:
		switch t.Type {
		case openflow13.Type_EchoRequest:
			res := openflow13.NewEchoReply()
			res.Xid = t.Xid
			if err := sw.Send(res); err != nil {
				log.Warnf("Error sending echo reply to %s: %v", sw.hwDpid, err)
			}
		case openflow13.Type_EchoReply:
			// nothing to do
		default:
			log.Debugf("Ignoring message type %d from %s", t.Type, sw.hwDpid)
		}

	case *PortDescReply:
		sw.portDescRcvd(t)

	case *PortStatus:
		sw.portStatusRcvd(t)
		if sw.connected {
			sw.ctrl.app.PortStatusRcvd(sw, t)
		}

	case *PacketIn:
		if !sw.connected {
			log.Debugf("Dropping packet-in from %s before port discovery", sw.hwDpid)
			return
		}
		sw.ctrl.app.PacketRcvd(sw, t)

	case *openflow13.ErrorMsg:
		log.Errorf("Received error from switch %s: type %d code %d", sw.hwDpid, t.Type, t.Code)

	case nil:
		// unparsable message, already logged by the stream

	default:
		log.Debugf("Ignoring message %T from %s", msg, sw.hwDpid)
	}
}

func (sw *OFSwitch) portDescRcvd(reply *PortDescReply) {
	sw.pending = append(sw.pending, reply.Ports...)
	if reply.More {
		return
	}

	sw.portMutex.Lock()
	sw.ports = sw.pending
	sw.portMutex.Unlock()
	sw.pending = nil

	if sw.connected {
		return
	}

	log.Infof("Switch %s reported %d ports", sw.hwDpid, len(sw.ports))

	sw.connected = true
	sw.ctrl.app.SwitchConnected(sw)
}

func (sw *OFSwitch) portStatusRcvd(status *PortStatus) {
	sw.portMutex.Lock()
	defer sw.portMutex.Unlock()

	for i, port := range sw.ports {
		if port.PortNo != status.Desc.PortNo {
			continue
		}
		if status.Reason == PortDeleted {
			sw.ports = append(sw.ports[:i], sw.ports[i+1:]...)
		} else {
			sw.ports[i] = status.Desc
		}
		return
	}

	if status.Reason != PortDeleted {
		sw.ports = append(sw.ports, status.Desc)
	}
}
