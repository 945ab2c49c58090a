package switchMgr

// Switch lifecycle manager. Keeps one actor per switch and feeds it the
// connect, disconnect, port and packet-in events of that switch.

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pablomguevara/my-mininet/hsia/dispatch"
	"github.com/pablomguevara/my-mininet/hsia/engine"
	"github.com/pablomguevara/my-mininet/hsia/macTable"
	"github.com/pablomguevara/my-mininet/hsia/roleTable"
	"github.com/pablomguevara/my-mininet/pkg/netutils"

	log "github.com/sirupsen/logrus"
)

const queryTimeout = 2 * time.Second

var ErrUnknownSwitch = errors.New("unknown switch")

// Switch as reported by the api
type SwitchInfo struct {
	Dpid           string    `json:"dpid"`
	State          string    `json:"state"`
	Configured     bool      `json:"configured"`
	GatewayPort    uint32    `json:"gatewayPort,omitempty"`
	DhcpServerPort uint32    `json:"dhcpServerPort,omitempty"`
	Ports          []uint32  `json:"ports"`
	DownlinkPorts  []uint32  `json:"downlinkPorts"`
	MacEntries     int       `json:"macEntries"`
	ConnectedAt    time.Time `json:"connectedAt,omitempty"`
	Counters       Counters  `json:"counters"`
}

type SwitchMgr struct {
	roles    *roleTable.Table
	engine   *engine.Engine
	macAging time.Duration

	switchMutex sync.Mutex
	switchDb    map[uint64]*SwitchActor
}

// Create a switch manager
func NewSwitchMgr(roles *roleTable.Table, eng *engine.Engine, macAging time.Duration) *SwitchMgr {
	mgr := new(SwitchMgr)

	mgr.roles = roles
	mgr.engine = eng
	mgr.macAging = macAging
	mgr.switchDb = make(map[uint64]*SwitchActor)

	return mgr
}

// Engine used to classify frames
func (self *SwitchMgr) Engine() *engine.Engine {
	return self.engine
}

func (self *SwitchMgr) getSwitch(dpid uint64) *SwitchActor {
	self.switchMutex.Lock()
	defer self.switchMutex.Unlock()

	return self.switchDb[dpid]
}

// get-or-create the actor of a switch
func (self *SwitchMgr) getOrCreateSwitch(dpid uint64) *SwitchActor {
	self.switchMutex.Lock()
	defer self.switchMutex.Unlock()

	sw := self.switchDb[dpid]
	if sw == nil {
		sw = newSwitchActor(dpid, self)
		self.switchDb[dpid] = sw
	}

	return sw
}

// A switch connected and reported its ports
func (self *SwitchMgr) SwitchConnected(dpid uint64, datapath dispatch.Datapath, ports []uint32) {
	sw := self.getOrCreateSwitch(dpid)
	sw.queueEvent(evConnect, &connectEvent{datapath: datapath, ports: ports})
}

// A switch connection went away. Disconnects from a connection that was
// already replaced by a newer one are ignored.
func (self *SwitchMgr) SwitchDisconnected(dpid uint64, datapath dispatch.Datapath) {
	sw := self.getSwitch(dpid)
	if sw == nil {
		log.Warnf("Disconnect from unknown switch %s", netutils.DpidString(dpid))
		return
	}

	sw.queueEvent(evDisconnect, datapath)
}

// A switch punted a frame
func (self *SwitchMgr) FrameReceived(dpid uint64, inPort uint32, data []byte, bufferID uint32) {
	sw := self.getSwitch(dpid)
	if sw == nil {
		log.Debugf("Frame from unregistered switch %s dropped", netutils.DpidString(dpid))
		return
	}

	sw.queueEvent(evPacketIn, &packetEvent{inPort: inPort, bufferID: bufferID, data: data})
}

// A port appeared on a switch
func (self *SwitchMgr) PortAdded(dpid uint64, port uint32) {
	if sw := self.getSwitch(dpid); sw != nil {
		sw.queueEvent(evPortAdd, port)
	}
}

// A port went away on a switch
func (self *SwitchMgr) PortDeleted(dpid uint64, port uint32) {
	if sw := self.getSwitch(dpid); sw != nil {
		sw.queueEvent(evPortDelete, port)
	}
}

// All known switches, ordered by dpid
func (self *SwitchMgr) ListSwitches() []*SwitchInfo {
	self.switchMutex.Lock()
	actors := make([]*SwitchActor, 0, len(self.switchDb))
	for _, sw := range self.switchDb {
		actors = append(actors, sw)
	}
	self.switchMutex.Unlock()

	sort.Slice(actors, func(i, j int) bool { return actors[i].Dpid < actors[j].Dpid })

	list := make([]*SwitchInfo, 0, len(actors))
	for _, sw := range actors {
		var info *SwitchInfo
		if err := sw.query(func(a *SwitchActor) { info = a.info() }, queryTimeout); err != nil {
			log.Warnf("Error reading switch state: %v", err)
			continue
		}
		list = append(list, info)
	}

	return list
}

// State of one switch
func (self *SwitchMgr) GetSwitch(dpid uint64) (*SwitchInfo, error) {
	sw := self.getSwitch(dpid)
	if sw == nil {
		return nil, ErrUnknownSwitch
	}

	var info *SwitchInfo
	if err := sw.query(func(a *SwitchActor) { info = a.info() }, queryTimeout); err != nil {
		return nil, err
	}

	return info, nil
}

// Learned macs of a switch. Empty while the switch is disconnected.
func (self *SwitchMgr) MacEntries(dpid uint64) ([]macTable.Entry, error) {
	sw := self.getSwitch(dpid)
	if sw == nil {
		return nil, ErrUnknownSwitch
	}

	entries := []macTable.Entry{}
	err := sw.query(func(a *SwitchActor) {
		if a.state != nil {
			entries = a.state.ctx.Macs.Entries()
		}
	}, queryTimeout)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Stop all switch actors
func (self *SwitchMgr) Stop() {
	self.switchMutex.Lock()
	defer self.switchMutex.Unlock()

	for dpid, sw := range self.switchDb {
		sw.stop()
		delete(self.switchDb, dpid)
	}
}
