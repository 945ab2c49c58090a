package main

import (
	"bytes"
	"net"
	"net/http/httptest"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/pablomguevara/my-mininet/hsia/api"
	"github.com/pablomguevara/my-mininet/hsia/dispatch"
	"github.com/pablomguevara/my-mininet/hsia/engine"
	"github.com/pablomguevara/my-mininet/hsia/frame/frameTest"
	"github.com/pablomguevara/my-mininet/hsia/roleTable"
	"github.com/pablomguevara/my-mininet/hsia/switchMgr"
)

type nullDatapath struct{}

func (nullDatapath) ClearRules() error                    { return nil }
func (nullDatapath) InstallRule(*dispatch.Rule) error     { return nil }
func (nullDatapath) EmitPacket(*dispatch.PacketOut) error { return nil }

func testController(t *testing.T) string {
	roles, err := roleTable.NewTable([]roleTable.Entry{{Dpid: 1, GatewayPort: 1, DhcpServerPort: 2}})
	if err != nil {
		t.Fatalf("Error creating role table: %v", err)
	}

	eng := engine.NewEngine(
		engine.Identity{Name: "gateway", MAC: frameTest.MustMAC("00:00:00:bb:bb:bb"), IP: net.ParseIP("10.0.0.1")},
		engine.Identity{Name: "dhcp-server", MAC: frameTest.MustMAC("00:00:00:aa:aa:aa"), IP: net.ParseIP("10.0.0.254")},
		engine.Policy{})

	mgr := switchMgr.NewSwitchMgr(roles, eng, 0)
	t.Cleanup(mgr.Stop)

	mgr.SwitchConnected(1, nullDatapath{}, []uint32{1, 2, 3})
	mgr.FrameReceived(1, 3, frameTest.ArpRequest(frameTest.MustMAC("00:00:00:00:00:0a"), "10.0.0.10", "10.0.0.1"), dispatch.NoBuffer)

	ts := httptest.NewServer(api.NewServer(mgr).Router())
	t.Cleanup(ts.Close)

	return ts.URL
}

func TestConsoleCommands(t *testing.T) {
	serverURL = testController(t)

	tests := []struct {
		line   string
		expect []string
	}{
		{"switches", []string{"DPID", "0000000000000001", "connected"}},
		{"switch 1", []string{"gateway port 1, dhcp server port 2", "causes: proxied=1"}},
		{"macs 0x1", []string{"00:00:00:00:00:0a", "3"}},
		{"identities", []string{"gateway", "00:00:00:aa:aa:aa", "10.0.0.254"}},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		if err := executeLine(&buf, tt.line); err != nil {
			t.Errorf("%q failed: %v", tt.line, err)
			continue
		}

		log.Infof("%s:\n%s", tt.line, buf.String())
		for _, s := range tt.expect {
			if !strings.Contains(buf.String(), s) {
				t.Errorf("%q: output missing %q", tt.line, s)
			}
		}
	}
}

func TestConsoleErrors(t *testing.T) {
	serverURL = testController(t)

	var buf bytes.Buffer
	if err := executeLine(&buf, "switch 7"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("Expected not found error. Got %v", err)
	}
	if err := executeLine(&buf, "macs"); err == nil {
		t.Errorf("Missing argument accepted")
	}
	if err := executeLine(&buf, "   "); err != nil {
		t.Errorf("Empty line failed: %v", err)
	}
}

func TestRootCommand(t *testing.T) {
	url := testController(t)

	var buf bytes.Buffer
	cmd := newRootCmd(&buf)
	cmd.SetArgs([]string{"--server", url, "identities"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if !strings.Contains(buf.String(), "10.0.0.1") {
		t.Errorf("Unexpected output:\n%s", buf.String())
	}
}
