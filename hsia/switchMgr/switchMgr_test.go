package switchMgr

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/pablomguevara/my-mininet/hsia/dispatch"
	"github.com/pablomguevara/my-mininet/hsia/engine"
	"github.com/pablomguevara/my-mininet/hsia/frame/frameTest"
	"github.com/pablomguevara/my-mininet/hsia/roleTable"
)

type fakeDatapath struct {
	mutex    sync.Mutex
	rules    []*dispatch.Rule
	packets  []*dispatch.PacketOut
	clears   int
	clearErr error
}

func (dp *fakeDatapath) ClearRules() error {
	dp.mutex.Lock()
	defer dp.mutex.Unlock()

	if dp.clearErr != nil {
		return dp.clearErr
	}
	dp.clears++
	dp.rules = nil
	return nil
}

func (dp *fakeDatapath) InstallRule(rule *dispatch.Rule) error {
	dp.mutex.Lock()
	defer dp.mutex.Unlock()

	dp.rules = append(dp.rules, rule)
	return nil
}

func (dp *fakeDatapath) EmitPacket(pkt *dispatch.PacketOut) error {
	dp.mutex.Lock()
	defer dp.mutex.Unlock()

	dp.packets = append(dp.packets, pkt)
	return nil
}

func (dp *fakeDatapath) reset() {
	dp.mutex.Lock()
	defer dp.mutex.Unlock()

	dp.rules = nil
	dp.packets = nil
}

func (dp *fakeDatapath) counts() (int, int) {
	dp.mutex.Lock()
	defer dp.mutex.Unlock()

	return len(dp.rules), len(dp.packets)
}

var (
	gwMac   = frameTest.MustMAC("00:00:00:bb:bb:bb")
	dhcpMac = frameTest.MustMAC("00:00:00:aa:aa:aa")
	hostMac = frameTest.MustMAC("00:00:00:00:00:0a")
	peerMac = frameTest.MustMAC("00:00:00:00:00:0b")
)

func newTestMgr(t *testing.T) *SwitchMgr {
	roles, err := roleTable.NewTable([]roleTable.Entry{
		{Dpid: 1, GatewayPort: 1, DhcpServerPort: 2},
		{Dpid: 2, GatewayPort: 1, DhcpServerPort: 1},
	})
	if err != nil {
		t.Fatalf("Error creating role table: %v", err)
	}

	eng := engine.NewEngine(
		engine.Identity{Name: "gateway", MAC: gwMac, IP: net.ParseIP("10.0.0.1")},
		engine.Identity{Name: "dhcp-server", MAC: dhcpMac, IP: net.ParseIP("10.0.0.254")},
		engine.Policy{})

	mgr := NewSwitchMgr(roles, eng, 0)
	t.Cleanup(mgr.Stop)

	return mgr
}

// Wait for the switch to process everything queued so far
func syncSwitch(t *testing.T, mgr *SwitchMgr, dpid uint64) *SwitchInfo {
	info, err := mgr.GetSwitch(dpid)
	if err != nil {
		t.Fatalf("Error getting switch %d: %v", dpid, err)
	}
	return info
}

func connectSwitch(t *testing.T, mgr *SwitchMgr, dpid uint64, ports ...uint32) *fakeDatapath {
	dp := &fakeDatapath{}
	mgr.SwitchConnected(dpid, dp, ports)
	syncSwitch(t, mgr, dpid)
	return dp
}

func lookupMac(t *testing.T, mgr *SwitchMgr, dpid uint64, mac net.HardwareAddr) (uint32, bool) {
	entries, err := mgr.MacEntries(dpid)
	if err != nil {
		t.Fatalf("Error reading macs: %v", err)
	}
	for _, entry := range entries {
		if entry.MAC == mac.String() {
			return entry.Port, true
		}
	}
	return 0, false
}

func TestSwitchConnect(t *testing.T) {
	mgr := newTestMgr(t)
	dp := connectSwitch(t, mgr, 1, 1, 2, 3, 4, 0xfffffffe)

	info := syncSwitch(t, mgr, 1)
	log.Infof("Switch info: %+v", info)

	if info.State != StateConnected || !info.Configured {
		t.Errorf("Unexpected switch state: %+v", info)
	}
	if len(info.DownlinkPorts) != 2 || info.DownlinkPorts[0] != 3 || info.DownlinkPorts[1] != 4 {
		t.Errorf("Unexpected downlink ports: %v", info.DownlinkPorts)
	}

	if dp.clears != 1 {
		t.Errorf("Expected rules cleared once. Got %d", dp.clears)
	}
	for _, cause := range engine.Causes() {
		if n, ok := info.Counters.Causes[cause.String()]; !ok || n != 0 {
			t.Errorf("Cause %s not zeroed: %d, %v", cause, n, ok)
		}
	}

	// table-miss plus three rules per downlink
	if len(dp.rules) != 7 {
		t.Fatalf("Expected 7 rules. Got %d", len(dp.rules))
	}
	if dp.rules[0].Priority != dispatch.PriorityTableMiss || dp.rules[0].Actions[0].Type != dispatch.Controller {
		t.Errorf("First rule should be the table-miss: %s", dp.rules[0])
	}
	for _, rule := range dp.rules[1:] {
		if rule.Match.InPort != 3 && rule.Match.InPort != 4 {
			t.Errorf("Static rule on a non downlink port: %s", rule)
		}
	}
}

func TestMisconfiguredSwitch(t *testing.T) {
	mgr := newTestMgr(t)
	dp := connectSwitch(t, mgr, 9, 1, 2, 3)

	if len(dp.rules) != 1 {
		t.Errorf("Expected only the table-miss rule. Got %d rules", len(dp.rules))
	}

	mgr.FrameReceived(9, 3, frameTest.ArpRequest(hostMac, "10.0.0.10", "10.0.0.254"), dispatch.NoBuffer)
	mgr.FrameReceived(9, 3, frameTest.Unicast(hostMac, peerMac), dispatch.NoBuffer)

	info := syncSwitch(t, mgr, 9)
	if info.Configured || info.Counters.Causes["misconfigured"] != 2 {
		t.Errorf("Unexpected counters: %+v", info.Counters)
	}
	if rules, packets := dp.counts(); rules != 1 || packets != 0 {
		t.Errorf("Misconfigured switch traffic must be dropped. Got %d rules, %d packets", rules, packets)
	}
	if _, ok := lookupMac(t, mgr, 9, hostMac); ok {
		t.Errorf("Misconfigured switch learned")
	}
}

func TestProxyArpEndToEnd(t *testing.T) {
	mgr := newTestMgr(t)
	dp := connectSwitch(t, mgr, 1, 1, 2, 3, 4)
	dp.reset()

	mgr.FrameReceived(1, 3, frameTest.ArpRequest(hostMac, "10.0.0.10", "10.0.0.254"), dispatch.NoBuffer)
	syncSwitch(t, mgr, 1)

	if len(dp.rules) != 0 || len(dp.packets) != 1 {
		t.Fatalf("Expected exactly one packet-out. Got %d rules, %d packets", len(dp.rules), len(dp.packets))
	}

	out := dp.packets[0]
	if len(out.Actions) != 1 || out.Actions[0] != dispatch.OutputTo(3) || out.InPort != dispatch.PortController {
		t.Errorf("Reply must go to the ingress port only: %+v", out)
	}
	if !bytes.Equal(out.Data[6:12], dhcpMac) {
		t.Errorf("Reply not sourced from the dhcp server mac: %x", out.Data[6:12])
	}

	if port, ok := lookupMac(t, mgr, 1, hostMac); !ok || port != 3 {
		t.Errorf("Expected requester learned on port 3. Got %d, %v", port, ok)
	}

	// same request from the gateway port answers without learning
	mgr.FrameReceived(1, 1, frameTest.ArpRequest(peerMac, "10.0.0.11", "10.0.0.254"), dispatch.NoBuffer)
	syncSwitch(t, mgr, 1)

	if _, packets := dp.counts(); packets != 2 {
		t.Errorf("Expected a second reply. Got %d packets", packets)
	}
	if _, ok := lookupMac(t, mgr, 1, peerMac); ok {
		t.Errorf("Gateway port must not learn")
	}
}

func TestDhcpEndToEnd(t *testing.T) {
	mgr := newTestMgr(t)
	dp := connectSwitch(t, mgr, 1, 1, 2, 3, 4)
	dp.reset()

	// illegal request from the server side does not learn
	mgr.FrameReceived(1, 2, frameTest.DhcpRequest(hostMac), dispatch.NoBuffer)
	syncSwitch(t, mgr, 1)
	if _, ok := lookupMac(t, mgr, 1, hostMac); ok {
		t.Errorf("Illegal request learned")
	}

	// unlearned client: reply floods, no rule
	mgr.FrameReceived(1, 2, frameTest.DhcpReply(dhcpMac, hostMac, hostMac), dispatch.NoBuffer)
	syncSwitch(t, mgr, 1)
	if len(dp.rules) != 0 || len(dp.packets) != 1 || dp.packets[0].Actions[0].Type != dispatch.Flood {
		t.Fatalf("Expected a single flood. Got %d rules, %+v", len(dp.rules), dp.packets)
	}

	// legal request learns the client
	mgr.FrameReceived(1, 4, frameTest.DhcpRequest(hostMac), dispatch.NoBuffer)
	syncSwitch(t, mgr, 1)
	if port, ok := lookupMac(t, mgr, 1, hostMac); !ok || port != 4 {
		t.Fatalf("Expected client learned on port 4. Got %d, %v", port, ok)
	}

	dp.reset()
	mgr.FrameReceived(1, 2, frameTest.DhcpReply(dhcpMac, hostMac, hostMac), dispatch.NoBuffer)
	syncSwitch(t, mgr, 1)

	if len(dp.rules) != 1 || len(dp.packets) != 1 {
		t.Fatalf("Expected rule and packet-out. Got %d rules, %d packets", len(dp.rules), len(dp.packets))
	}
	rule := dp.rules[0]
	if rule.Match.InPort != 2 || !bytes.Equal(rule.Match.DstMac, hostMac) || rule.Actions[0] != dispatch.OutputTo(4) {
		t.Errorf("Unexpected learned rule: %s", rule)
	}
}

func TestReconnectResetsMacs(t *testing.T) {
	mgr := newTestMgr(t)
	dp := connectSwitch(t, mgr, 1, 1, 2, 3, 4)

	mgr.FrameReceived(1, 3, frameTest.Unicast(hostMac, peerMac), dispatch.NoBuffer)
	syncSwitch(t, mgr, 1)
	if _, ok := lookupMac(t, mgr, 1, hostMac); !ok {
		t.Fatalf("Expected host learned")
	}

	mgr.SwitchDisconnected(1, dp)
	if info := syncSwitch(t, mgr, 1); info.State != StateDisconnected {
		t.Errorf("Expected disconnected. Got %s", info.State)
	}

	dp = connectSwitch(t, mgr, 1, 1, 2, 3, 4)
	dp.reset()

	mgr.FrameReceived(1, 4, frameTest.Unicast(peerMac, hostMac), dispatch.NoBuffer)
	syncSwitch(t, mgr, 1)

	if len(dp.rules) != 0 || len(dp.packets) != 1 || dp.packets[0].Actions[0].Type != dispatch.Flood {
		t.Errorf("Expected flood after reconnect. Got %d rules, %+v", len(dp.rules), dp.packets)
	}
}

// Rules of the previous session are gone before anything is installed
func TestReconnectClearsRules(t *testing.T) {
	mgr := newTestMgr(t)
	dp := connectSwitch(t, mgr, 1, 1, 2, 3)

	mgr.FrameReceived(1, 3, frameTest.Unicast(hostMac, peerMac), dispatch.NoBuffer)
	mgr.FrameReceived(1, 1, frameTest.Unicast(peerMac, hostMac), dispatch.NoBuffer)
	syncSwitch(t, mgr, 1)
	if rules, _ := dp.counts(); rules != 5 {
		t.Fatalf("Expected a learned rule after the static ones. Got %d rules", rules)
	}

	// same connection object reporting in again
	mgr.SwitchConnected(1, dp, []uint32{1, 2, 3})
	syncSwitch(t, mgr, 1)

	if dp.clears != 2 {
		t.Errorf("Expected a clear per connection. Got %d", dp.clears)
	}
	if len(dp.rules) != 4 || dp.rules[0].Priority != dispatch.PriorityTableMiss {
		t.Errorf("Expected only the table-miss and static rules after reconnect. Got %d rules", len(dp.rules))
	}
	for _, rule := range dp.rules {
		if rule.Priority == dispatch.PriorityLearned {
			t.Errorf("Learned rule survived reconnect: %s", rule)
		}
	}
}

func TestClearRulesError(t *testing.T) {
	mgr := newTestMgr(t)
	dp := &fakeDatapath{clearErr: errors.New("connection closed")}
	mgr.SwitchConnected(1, dp, []uint32{1, 2, 3})

	info := syncSwitch(t, mgr, 1)
	if info.State != StateConnected || info.Counters.DispatchErrors != 1 {
		t.Errorf("Clear failure should be counted and not block the connection: %+v", info)
	}
	if rules, _ := dp.counts(); rules != 4 {
		t.Errorf("Expected table-miss and static rules. Got %d", rules)
	}
}

func TestStaleDisconnect(t *testing.T) {
	mgr := newTestMgr(t)
	old := connectSwitch(t, mgr, 1, 1, 2, 3)
	connectSwitch(t, mgr, 1, 1, 2, 3)

	mgr.SwitchDisconnected(1, old)
	if info := syncSwitch(t, mgr, 1); info.State != StateConnected {
		t.Errorf("Disconnect of a replaced connection changed state to %s", info.State)
	}
}

func TestPortEvents(t *testing.T) {
	mgr := newTestMgr(t)
	dp := connectSwitch(t, mgr, 1, 1, 2, 3)
	dp.reset()

	mgr.PortAdded(1, 5)
	mgr.PortAdded(1, 5)
	info := syncSwitch(t, mgr, 1)

	if len(dp.rules) != 3 {
		t.Errorf("Expected 3 rules for the new port. Got %d", len(dp.rules))
	}
	if len(info.DownlinkPorts) != 2 || info.DownlinkPorts[1] != 5 {
		t.Errorf("Unexpected downlink ports: %v", info.DownlinkPorts)
	}

	mgr.PortDeleted(1, 3)
	info = syncSwitch(t, mgr, 1)
	if len(info.DownlinkPorts) != 1 || info.DownlinkPorts[0] != 5 || len(info.Ports) != 3 {
		t.Errorf("Unexpected ports after delete: %+v", info)
	}
}

func TestListSwitches(t *testing.T) {
	mgr := newTestMgr(t)
	connectSwitch(t, mgr, 2, 1, 2)
	connectSwitch(t, mgr, 1, 1, 2, 3)

	list := mgr.ListSwitches()
	if len(list) != 2 || list[0].Dpid != "0000000000000001" || list[1].Dpid != "0000000000000002" {
		t.Errorf("Unexpected switch list: %+v", list)
	}

	if _, err := mgr.GetSwitch(7); !errors.Is(err, ErrUnknownSwitch) {
		t.Errorf("Expected unknown switch. Got %v", err)
	}

	// frames from unknown switches are ignored
	mgr.FrameReceived(7, 1, frameTest.Unicast(hostMac, peerMac), dispatch.NoBuffer)
}
