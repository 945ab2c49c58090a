package config

// Static configuration of the hsia controller. Loaded once at startup from
// a yaml file, never modified at runtime.

import (
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Values of Policy.UnknownUnicastUplink
const (
	PolicyDrop  = "drop"
	PolicyFlood = "flood"
)

// Well known network identity answered for by the ARP proxy
type Identity struct {
	MAC string `yaml:"mac" json:"mac"`
	IP  string `yaml:"ip" json:"ip"`
}

// Port assignment of one switch
type SwitchPorts struct {
	Dpid           uint64 `yaml:"dpid"`
	GatewayPort    uint32 `yaml:"gatewayPort"`
	DhcpServerPort uint32 `yaml:"dhcpServerPort"`
}

type Policy struct {
	UnknownUnicastUplink string        `yaml:"unknownUnicastUplink"` // drop or flood
	MacAging             time.Duration `yaml:"macAging"`             // 0 keeps entries forever
}

// Optional OVS bridge to point at this controller
type Ovs struct {
	Bridge string `yaml:"bridge"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
}

type Config struct {
	Listen     string        `yaml:"listen"`  // openflow listen address
	ApiPort    int           `yaml:"apiPort"` // REST api port
	LogLevel   string        `yaml:"logLevel"`
	Gateway    Identity      `yaml:"gateway"`
	DhcpServer Identity      `yaml:"dhcpServer"`
	Switches   []SwitchPorts `yaml:"switches"`
	Policy     Policy        `yaml:"policy"`
	Ovs        Ovs           `yaml:"ovs"`
}

// Default configuration. Matches the lab topology: switch 1 has the
// gateway on port 1 and the DHCP server on port 2, switches 2 to 4 reach
// both through port 1.
func Default() *Config {
	return &Config{
		Listen:     ":6633",
		ApiPort:    8000,
		LogLevel:   "info",
		Gateway:    Identity{MAC: "00:00:00:bb:bb:bb", IP: "10.0.0.1"},
		DhcpServer: Identity{MAC: "00:00:00:aa:aa:aa", IP: "10.0.0.254"},
		Switches: []SwitchPorts{
			{Dpid: 1, GatewayPort: 1, DhcpServerPort: 2},
			{Dpid: 2, GatewayPort: 1, DhcpServerPort: 1},
			{Dpid: 3, GatewayPort: 1, DhcpServerPort: 1},
			{Dpid: 4, GatewayPort: 1, DhcpServerPort: 1},
		},
		Policy: Policy{UnknownUnicastUplink: PolicyDrop},
		Ovs:    Ovs{Host: "localhost", Port: 6640},
	}
}

// Load the config file. Keys missing from the file keep their default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse a yaml config and validate it
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Parse the mac and ip of an identity
func (id Identity) Parse() (net.HardwareAddr, net.IP, error) {
	mac, err := net.ParseMAC(id.MAC)
	if err != nil || len(mac) != 6 {
		return nil, nil, fmt.Errorf("invalid mac address %q", id.MAC)
	}

	ip := net.ParseIP(id.IP).To4()
	if ip == nil {
		return nil, nil, fmt.Errorf("invalid ipv4 address %q", id.IP)
	}

	return mac, ip, nil
}

// Validate checks identities, switch port assignments and policy values
func (c *Config) Validate() error {
	if _, _, err := c.Gateway.Parse(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if _, _, err := c.DhcpServer.Parse(); err != nil {
		return fmt.Errorf("dhcpServer: %w", err)
	}

	dpids := make(map[uint64]bool)
	for _, sw := range c.Switches {
		if dpids[sw.Dpid] {
			return fmt.Errorf("duplicate switch dpid %d", sw.Dpid)
		}
		dpids[sw.Dpid] = true

		if sw.GatewayPort == 0 || sw.DhcpServerPort == 0 {
			return fmt.Errorf("switch %d: gateway and dhcp server ports are required", sw.Dpid)
		}
		if sw.GatewayPort == sw.DhcpServerPort {
			log.Warnf("Switch %d reaches gateway and dhcp server through port %d", sw.Dpid, sw.GatewayPort)
		}
	}

	switch c.Policy.UnknownUnicastUplink {
	case PolicyDrop, PolicyFlood:
	default:
		return fmt.Errorf("unknown policy for unknown unicast on uplink: %q", c.Policy.UnknownUnicastUplink)
	}

	if c.Policy.MacAging < 0 {
		return fmt.Errorf("negative mac aging %v", c.Policy.MacAging)
	}

	if c.ApiPort < 0 || c.ApiPort > 65535 {
		return fmt.Errorf("invalid api port %d", c.ApiPort)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}
