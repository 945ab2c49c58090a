package switchMgr

import (
	"sync"

	"github.com/pablomguevara/my-mininet/hsia/dispatch"
	"github.com/pablomguevara/my-mininet/pkg/netutils"
	"github.com/pablomguevara/my-mininet/pkg/ofctrl"

	log "github.com/sirupsen/logrus"
)

// Openflow application feeding switch events to the manager
type OfApp struct {
	mgr *SwitchMgr

	dpMutex   sync.Mutex
	datapaths map[*ofctrl.OFSwitch]*dispatch.OfDatapath
}

func NewOfApp(mgr *SwitchMgr) *OfApp {
	return &OfApp{
		mgr:       mgr,
		datapaths: make(map[*ofctrl.OFSwitch]*dispatch.OfDatapath),
	}
}

func (app *OfApp) datapath(sw *ofctrl.OFSwitch, remove bool) *dispatch.OfDatapath {
	app.dpMutex.Lock()
	defer app.dpMutex.Unlock()

	dp := app.datapaths[sw]
	if dp == nil {
		dp = dispatch.NewOfDatapath(sw)
		app.datapaths[sw] = dp
	}
	if remove {
		delete(app.datapaths, sw)
	}

	return dp
}

func (app *OfApp) SwitchConnected(sw *ofctrl.OFSwitch) {
	app.mgr.SwitchConnected(sw.DPID(), app.datapath(sw, false), sw.Ports())
}

func (app *OfApp) SwitchDisconnected(sw *ofctrl.OFSwitch) {
	app.mgr.SwitchDisconnected(sw.DPID(), app.datapath(sw, true))
}

// libOpenflow parses every inbound message on its own goroutine, so two
// packet-ins of one switch may reach the actor queue out of order. A mac
// seen on two ports in quick succession ends up on whichever was queued last.
func (app *OfApp) PacketRcvd(sw *ofctrl.OFSwitch, pkt *ofctrl.PacketIn) {
	app.mgr.FrameReceived(sw.DPID(), pkt.InPort, pkt.Frame, pkt.BufferId)
}

func (app *OfApp) PortStatusRcvd(sw *ofctrl.OFSwitch, status *ofctrl.PortStatus) {
	switch status.Reason {
	case ofctrl.PortAdded:
		app.mgr.PortAdded(sw.DPID(), status.Desc.PortNo)
	case ofctrl.PortDeleted:
		app.mgr.PortDeleted(sw.DPID(), status.Desc.PortNo)
	case ofctrl.PortModified:
		// link state changes keep the port's role
		log.Debugf("Switch %s: port %d modified, state %x", netutils.DpidString(sw.DPID()),
			status.Desc.PortNo, status.Desc.State)
	}
}
