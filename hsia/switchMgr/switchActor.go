package switchMgr

import (
	"errors"
	"fmt"
	"time"

	"github.com/jainvipin/bitset"

	"github.com/pablomguevara/my-mininet/hsia/dispatch"
	"github.com/pablomguevara/my-mininet/hsia/engine"
	"github.com/pablomguevara/my-mininet/hsia/frame"
	"github.com/pablomguevara/my-mininet/hsia/macTable"
	"github.com/pablomguevara/my-mininet/pkg/libfsm"
	"github.com/pablomguevara/my-mininet/pkg/netutils"

	log "github.com/sirupsen/logrus"
)

// Switch states
const (
	StateUnregistered = "unregistered"
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
)

// Switch events
const (
	evConnect    = "connect"
	evDisconnect = "disconnect"
	evPacketIn   = "packetIn"
	evPortAdd    = "portAdd"
	evPortDelete = "portDelete"
	evQuery      = "query"
)

const (
	eventQueueLen = 200

	// ports above this are not tracked in the static port bitset
	maxTrackedPort = 0xffff
)

var errStaleDisconnect = errors.New("disconnect from a replaced connection")

type connectEvent struct {
	datapath dispatch.Datapath
	ports    []uint32
}

type packetEvent struct {
	inPort   uint32
	bufferID uint32
	data     []byte
}

type queryEvent struct {
	fn   func(a *SwitchActor)
	done chan struct{}
}

// State of a registered switch. Created on connect, discarded on
// disconnect.
type switchState struct {
	datapath    dispatch.Datapath
	ctx         engine.SwitchContext
	ports       []uint32
	staticPorts *bitset.BitSet // downlink ports carrying static rules
	connectedAt time.Time
	warned      bool // misconfiguration already logged
}

// Per switch counters, kept across reconnects
type Counters struct {
	PacketIn       uint64            `json:"packetIn"`
	ParseErrors    uint64            `json:"parseErrors"`
	DispatchErrors uint64            `json:"dispatchErrors"`
	RulesInstalled uint64            `json:"rulesInstalled"`
	Decisions      map[string]uint64 `json:"decisions"`
	Causes         map[string]uint64 `json:"causes"`
}

// Actor owning one switch. All events for the switch go through its
// queue and are handled in order by its run loop.
type SwitchActor struct {
	Dpid      uint64
	Fsm       *libfsm.Fsm
	EventChan chan libfsm.Event
	stopChan  chan struct{}

	mgr      *SwitchMgr
	state    *switchState
	counters Counters
}

func newSwitchActor(dpid uint64, mgr *SwitchMgr) *SwitchActor {
	sw := new(SwitchActor)

	sw.Dpid = dpid
	sw.mgr = mgr
	sw.counters.Decisions = make(map[string]uint64)
	sw.counters.Causes = make(map[string]uint64)
	for _, cause := range engine.Causes() {
		sw.counters.Causes[cause.String()] = 0
	}

	sw.Fsm = libfsm.NewFsm(&libfsm.FsmTable{
		// currentState,  event,      newState,   callback
		{StateUnregistered, evConnect, StateConnected, func(e libfsm.Event) error { return sw.connect(e) }},
		{StateConnected, evConnect, StateConnected, func(e libfsm.Event) error { return sw.connect(e) }},
		{StateDisconnected, evConnect, StateConnected, func(e libfsm.Event) error { return sw.connect(e) }},
		{StateConnected, evDisconnect, StateDisconnected, func(e libfsm.Event) error { return sw.disconnect(e) }},
		{StateConnected, evPacketIn, StateConnected, func(e libfsm.Event) error { return sw.packetIn(e) }},
		{StateConnected, evPortAdd, StateConnected, func(e libfsm.Event) error { return sw.portAdd(e) }},
		{StateConnected, evPortDelete, StateConnected, func(e libfsm.Event) error { return sw.portDelete(e) }},
		{StateDisconnected, evPacketIn, StateDisconnected, nil},
		{StateDisconnected, evPortAdd, StateDisconnected, nil},
		{StateDisconnected, evPortDelete, StateDisconnected, nil},
		{StateUnregistered, evQuery, StateUnregistered, runQuery(sw)},
		{StateConnected, evQuery, StateConnected, runQuery(sw)},
		{StateDisconnected, evQuery, StateDisconnected, runQuery(sw)},
	}, StateUnregistered)

	sw.EventChan = make(chan libfsm.Event, eventQueueLen)
	sw.stopChan = make(chan struct{})

	go sw.runLoop()

	return sw
}

func runQuery(sw *SwitchActor) libfsm.CallbackFunc {
	return func(e libfsm.Event) error {
		q := e.EventData.(*queryEvent)
		q.fn(sw)
		close(q.done)
		return nil
	}
}

// Main run loop for the switch.
// Wait in the event loop for an event
func (self *SwitchActor) runLoop() {
	for {
		select {
		case event := <-self.EventChan:
			self.Fsm.FsmEvent(event)
		case <-self.stopChan:
			return
		}
	}
}

// Queue an event to the switch
func (self *SwitchActor) queueEvent(name string, data interface{}) {
	self.EventChan <- libfsm.Event{EventName: name, EventData: data}
}

// Run fn in the actor's goroutine and wait for it
func (self *SwitchActor) query(fn func(a *SwitchActor), timeout time.Duration) error {
	q := &queryEvent{fn: fn, done: make(chan struct{})}

	select {
	case self.EventChan <- libfsm.Event{EventName: evQuery, EventData: q}:
	case <-time.After(timeout):
		return fmt.Errorf("switch %s: event queue full", netutils.DpidString(self.Dpid))
	}

	select {
	case <-q.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("switch %s: query timed out", netutils.DpidString(self.Dpid))
	}
}

func (self *SwitchActor) stop() {
	close(self.stopChan)
}

// ****************** FSM event handlers ***************

// Register the switch: fresh mac table, table-miss rule and the static
// rules of every downlink port
func (self *SwitchActor) connect(e libfsm.Event) error {
	ev := e.EventData.(*connectEvent)

	state := &switchState{
		datapath:    ev.datapath,
		ports:       append([]uint32(nil), ev.ports...),
		staticPorts: bitset.New(64),
		connectedAt: time.Now(),
	}
	state.ctx.Dpid = self.Dpid
	state.ctx.Macs = macTable.NewTable(self.mgr.macAging)

	roles, err := self.mgr.roles.Lookup(self.Dpid)
	if err == nil {
		state.ctx.Roles = roles
	}

	self.state = state

	log.Infof("Switch %s connected with ports %v", netutils.DpidString(self.Dpid), ev.ports)

	// rules learned in an earlier session may point at stale ports
	if err := state.datapath.ClearRules(); err != nil {
		log.Errorf("Switch %s: error clearing rules: %v", netutils.DpidString(self.Dpid), err)
		self.counters.DispatchErrors++
	}

	self.installRule(dispatch.TableMissRule())

	if roles == nil {
		self.warnMisconfigured()
		return nil
	}

	for _, port := range ev.ports {
		self.addDownlink(port)
	}

	return nil
}

func (self *SwitchActor) disconnect(e libfsm.Event) error {
	dp, _ := e.EventData.(dispatch.Datapath)
	if dp != nil && self.state != nil && dp != self.state.datapath {
		return errStaleDisconnect
	}

	log.Infof("Switch %s disconnected", netutils.DpidString(self.Dpid))

	self.state = nil

	return nil
}

func (self *SwitchActor) packetIn(e libfsm.Event) error {
	ev := e.EventData.(*packetEvent)
	state := self.state

	self.counters.PacketIn++

	f, err := frame.Parse(ev.data)
	if err != nil {
		log.Debugf("Switch %s: dropping frame on port %d: %v", netutils.DpidString(self.Dpid), ev.inPort, err)
		self.counters.ParseErrors++
		return nil
	}

	decision := self.mgr.engine.Classify(&state.ctx, ev.inPort, f)
	self.counters.Decisions[decision.Type.String()]++
	self.counters.Causes[decision.Cause.String()]++

	if decision.Cause == engine.CauseMisconfigured {
		self.warnMisconfigured()
	}

	pkt := &dispatch.PacketIn{InPort: ev.inPort, BufferID: ev.bufferID, Frame: f}
	if err := dispatch.Apply(state.datapath, pkt, decision); err != nil {
		log.Errorf("Switch %s: error applying %s: %v", netutils.DpidString(self.Dpid), decision, err)
		self.counters.DispatchErrors++
		return nil
	}

	if decision.Type == engine.ForwardToPort {
		self.counters.RulesInstalled++
	}

	return nil
}

func (self *SwitchActor) portAdd(e libfsm.Event) error {
	port := e.EventData.(uint32)
	state := self.state

	for _, p := range state.ports {
		if p == port {
			return nil
		}
	}
	state.ports = append(state.ports, port)

	log.Infof("Switch %s: port %d added", netutils.DpidString(self.Dpid), port)

	if state.ctx.Roles != nil {
		self.addDownlink(port)
	}

	return nil
}

func (self *SwitchActor) portDelete(e libfsm.Event) error {
	port := e.EventData.(uint32)
	state := self.state

	for i, p := range state.ports {
		if p == port {
			state.ports = append(state.ports[:i], state.ports[i+1:]...)
			break
		}
	}
	if port <= maxTrackedPort {
		state.staticPorts.Clear(uint(port))
	}

	// rules of the port are removed by the switch along with the port
	log.Infof("Switch %s: port %d deleted", netutils.DpidString(self.Dpid), port)

	return nil
}

// Install the static rules of a port if it is a downlink
func (self *SwitchActor) addDownlink(port uint32) {
	state := self.state

	if dispatch.IsReservedPort(port) || state.ctx.Roles.IsUplink(port) {
		return
	}
	if port <= maxTrackedPort && state.staticPorts.Test(uint(port)) {
		return
	}

	for _, rule := range dispatch.DownlinkRules(port, state.ctx.Roles) {
		self.installRule(rule)
	}

	if port <= maxTrackedPort {
		state.staticPorts.Set(uint(port))
	}
}

func (self *SwitchActor) installRule(rule *dispatch.Rule) {
	log.Debugf("Switch %s: installing %s", netutils.DpidString(self.Dpid), rule)

	if err := self.state.datapath.InstallRule(rule); err != nil {
		log.Errorf("Switch %s: error installing %s: %v", netutils.DpidString(self.Dpid), rule, err)
		self.counters.DispatchErrors++
		return
	}

	self.counters.RulesInstalled++
}

// Log a missing role entry once per registration
func (self *SwitchActor) warnMisconfigured() {
	if self.state.warned {
		return
	}
	self.state.warned = true

	log.Errorf("Switch %s has no port role entry, dropping its traffic", netutils.DpidString(self.Dpid))
}

// Snapshot of the switch for the api. Runs in the actor.
func (self *SwitchActor) info() *SwitchInfo {
	info := &SwitchInfo{
		Dpid:  netutils.DpidString(self.Dpid),
		State: self.Fsm.State(),
		Counters: Counters{
			PacketIn:       self.counters.PacketIn,
			ParseErrors:    self.counters.ParseErrors,
			DispatchErrors: self.counters.DispatchErrors,
			RulesInstalled: self.counters.RulesInstalled,
			Decisions:      make(map[string]uint64),
			Causes:         make(map[string]uint64),
		},
	}
	for k, v := range self.counters.Decisions {
		info.Counters.Decisions[k] = v
	}
	for k, v := range self.counters.Causes {
		info.Counters.Causes[k] = v
	}

	state := self.state
	if state == nil {
		return info
	}

	info.ConnectedAt = state.connectedAt
	info.Ports = append([]uint32(nil), state.ports...)
	info.MacEntries = state.ctx.Macs.Len()
	if state.ctx.Roles != nil {
		info.Configured = true
		info.GatewayPort = state.ctx.Roles.GatewayPort
		info.DhcpServerPort = state.ctx.Roles.DhcpServerPort
	}
	for i, ok := state.staticPorts.NextSet(0); ok; i, ok = state.staticPorts.NextSet(i + 1) {
		info.DownlinkPorts = append(info.DownlinkPorts, uint32(i))
	}

	return info
}
