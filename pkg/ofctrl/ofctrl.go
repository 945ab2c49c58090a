package ofctrl

// This library implements a simple openflow 1.3 controller

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/contiv/libOpenflow/common"
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"

	log "github.com/sirupsen/logrus"
)

// Note: Command to make ovs connect to controller:
// ovs-vsctl set-controller <bridge-name> tcp:<ip-addr>:<port>
// E.g.    sudo ovs-vsctl set-controller ovsbr0 tcp:127.0.0.1:6633

// To enable openflow1.3 support in OVS:
// ovs-vsctl set bridge <bridge-name> protocols=OpenFlow13

type AppInterface interface {
	// A Switch connected to the controller and reported its ports
	SwitchConnected(sw *OFSwitch)

	// Switch disconnected from the controller
	SwitchDisconnected(sw *OFSwitch)

	// Controller received a packet from the switch
	PacketRcvd(sw *OFSwitch, pkt *PacketIn)

	// A port was added, removed or modified on the switch
	PortStatusRcvd(sw *OFSwitch, status *PortStatus)
}

type Controller struct {
	app AppInterface
	wg  sync.WaitGroup

	listenerMutex sync.Mutex
	listener      *net.TCPListener
	deleted       bool
}

var (
	ErrNotBound          = errors.New("controller is not bound to an address")
	ErrControllerDeleted = errors.New("controller was deleted")
)

// Create a new controller
func NewController(app AppInterface) *Controller {
	c := new(Controller)

	// Save the handler
	c.app = app

	return c
}

// Open the listening socket
func (c *Controller) Bind(port string) error {
	addr, err := net.ResolveTCPAddr("tcp", port)
	if err != nil {
		return err
	}

	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return err
	}

	c.listenerMutex.Lock()
	defer c.listenerMutex.Unlock()

	if c.deleted {
		listener.Close()
		return ErrControllerDeleted
	}
	if c.listener != nil {
		c.listener.Close()
	}
	c.listener = listener

	return nil
}

// Address the controller listens on, nil before Bind
func (c *Controller) Addr() net.Addr {
	c.listenerMutex.Lock()
	defer c.listenerMutex.Unlock()

	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Accept switch connections. Returns nil when the controller is deleted.
func (c *Controller) Serve() error {
	c.listenerMutex.Lock()
	listener := c.listener
	c.listenerMutex.Unlock()

	if listener == nil {
		return ErrNotBound
	}

	log.Infof("Listening for openflow connections on %v", listener.Addr())
	for {
		conn, err := listener.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		c.wg.Add(1)
		go c.handleConnection(conn)
	}
}

// Listen on a port. Returns when the controller is deleted.
func (c *Controller) Listen(port string) error {
	if err := c.Bind(port); err != nil {
		return err
	}
	return c.Serve()
}

// Cleanup the controller
func (c *Controller) Delete() {
	c.listenerMutex.Lock()
	c.deleted = true
	if c.listener != nil {
		c.listener.Close()
	}
	c.listenerMutex.Unlock()

	c.wg.Wait()
}

// Handle TCP connection from the switch
func (c *Controller) handleConnection(conn net.Conn) {
	defer c.wg.Done()

	stream := util.NewMessageStream(conn, c)

	log.Infof("New connection from %v", conn.RemoteAddr())

	// Send ofp 1.3 Hello by default
	h, err := common.NewHello(4)
	if err != nil {
		return
	}
	stream.Outbound <- h

	for {
		select {
		case msg := <-stream.Inbound:
			switch m := msg.(type) {
			// A Hello message of the appropriate type
			// completes version negotiation. If version
			// types are incompatable, it is possible the
			// connection may be servered without error.
			case *common.Hello:
				if m.Version == openflow13.VERSION {
					log.Infoln("Received Openflow 1.3 Hello message")
					stream.Version = m.Version
					stream.Outbound <- openflow13.NewFeaturesRequest()
				} else {
					// Connection should be severed if controller
					// doesn't support switch version.
					log.Warnf("Received unsupported ofp version %d", m.Version)
					stream.Shutdown <- true
				}

			// After a vaild FeaturesReply has been received we
			// know the dpid. Create a new switch object and let it
			// discover its ports.
			case *openflow13.SwitchFeatures:
				log.Infof("Received ofp1.3 Switch feature response: %+v", *m)

				sw := NewSwitch(stream, m.DPID, c)

				// Let switch instance handle all future messages..
				go sw.receive()
				return

			// An error message may indicate a version mismatch. We
			// disconnect if an error occurs this early.
			case *openflow13.ErrorMsg:
				log.Warnf("Received ofp1.3 error msg: %+v", *m)
				stream.Shutdown <- true
			}
		case err := <-stream.Error:
			// The connection has been shutdown.
			log.Infof("Connection closed during handshake: %v", err)
			return
		case <-time.After(time.Second * 3):
			// This shouldn't happen. If it does, both the controller
			// and switch are no longer communicating. The TCPConn is
			// still established though.
			log.Warnln("Connection timed out.")
			stream.Shutdown <- true
			return
		}
	}
}

// Demux based on message version. Port description and port status
// messages are decoded here, everything else is left to libOpenflow.
func (c *Controller) Parse(b []byte) (message util.Message, err error) {
	if len(b) < ofpHeaderLen {
		return nil, errShortMessage
	}

	if b[0] != openflow13.VERSION {
		log.Errorf("Received unsupported openflow version: %d", b[0])
		return nil, nil
	}

	switch b[1] {
	case openflow13.Type_MultiPartReply:
		if isPortDescReply(b) {
			reply, err := parsePortDescReply(b)
			if err != nil {
				return nil, err
			}
			return reply, nil
		}
	case openflow13.Type_PortStatus:
		status, err := parsePortStatus(b)
		if err != nil {
			return nil, err
		}
		return status, nil
	case openflow13.Type_PacketIn:
		pkt, err := parsePacketIn(b)
		if err != nil {
			return nil, err
		}
		return pkt, nil
	}

	return openflow13.Parse(b)
}
