package roleTable

// Port role table: which port of each switch faces the gateway and which
// faces the dhcp server. Everything else is a downlink.

import (
	"errors"
	"fmt"
)

type Role int

const (
	Downlink Role = iota
	Gateway
	DhcpServer
)

func (r Role) String() string {
	switch r {
	case Gateway:
		return "gateway"
	case DhcpServer:
		return "dhcp-server"
	}
	return "downlink"
}

// Returned for switches without a configured role entry
var ErrMisconfigured = errors.New("switch has no port role entry")

// Role assignment of one switch
type Entry struct {
	Dpid           uint64
	GatewayPort    uint32
	DhcpServerPort uint32
}

// Port roles of a single switch
type PortRoles struct {
	GatewayPort    uint32
	DhcpServerPort uint32
}

// Role of a port. Gateway wins when both roles share the port.
func (p *PortRoles) RoleOf(port uint32) Role {
	switch port {
	case p.GatewayPort:
		return Gateway
	case p.DhcpServerPort:
		return DhcpServer
	}
	return Downlink
}

// True for the gateway and dhcp server ports
func (p *PortRoles) IsUplink(port uint32) bool {
	return p.RoleOf(port) != Downlink
}

// Static role table. Read only once built so it is safe to share.
type Table struct {
	roles map[uint64]PortRoles
}

// Build the table from per switch entries
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{roles: make(map[uint64]PortRoles)}

	for _, entry := range entries {
		if _, ok := t.roles[entry.Dpid]; ok {
			return nil, fmt.Errorf("duplicate role entry for switch %d", entry.Dpid)
		}
		if entry.GatewayPort == 0 || entry.DhcpServerPort == 0 {
			return nil, fmt.Errorf("switch %d: port 0 is not a valid role port", entry.Dpid)
		}

		t.roles[entry.Dpid] = PortRoles{
			GatewayPort:    entry.GatewayPort,
			DhcpServerPort: entry.DhcpServerPort,
		}
	}

	return t, nil
}

// Port roles of a switch. Returns a copy so callers can keep it for the
// lifetime of a registration.
func (t *Table) Lookup(dpid uint64) (*PortRoles, error) {
	roles, ok := t.roles[dpid]
	if !ok {
		return nil, fmt.Errorf("switch %d: %w", dpid, ErrMisconfigured)
	}

	return &roles, nil
}

// Role of a port on a switch
func (t *Table) RoleOf(dpid uint64, port uint32) (Role, error) {
	roles, err := t.Lookup(dpid)
	if err != nil {
		return Downlink, err
	}

	return roles.RoleOf(port), nil
}

// Number of configured switches
func (t *Table) Len() int {
	return len(t.roles)
}
