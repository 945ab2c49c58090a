package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pablomguevara/my-mininet/hsia/api"
	"github.com/pablomguevara/my-mininet/hsia/config"
	"github.com/pablomguevara/my-mininet/hsia/engine"
	"github.com/pablomguevara/my-mininet/hsia/roleTable"
	"github.com/pablomguevara/my-mininet/hsia/switchMgr"
	"github.com/pablomguevara/my-mininet/pkg/ofctrl"
	"github.com/pablomguevara/my-mininet/pkg/ovsdriver"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
	listenAddr string
	apiPort    int
)

var rootCmd = &cobra.Command{
	Use:          "hsiad",
	Short:        "OpenFlow 1.3 controller for the HSIA access network",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		return run(cfg)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "yaml config file, built-in defaults when empty")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level, overrides the config file")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "openflow listen address, overrides the config file")
	rootCmd.Flags().IntVar(&apiPort, "api-port", 0, "REST api port, overrides the config file")

	// glog verbosity for the fsm and ovsdb layers
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

// Config file plus command line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, err
		}
	}

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen = listenAddr
	}
	if cmd.Flags().Changed("api-port") {
		cfg.ApiPort = apiPort
	}

	return cfg, nil
}

// Controller components built from the config
type hsiaDaemon struct {
	cfg  *config.Config
	mgr  *switchMgr.SwitchMgr
	ctrl *ofctrl.Controller
	api  *api.Server
}

func newDaemon(cfg *config.Config) (*hsiaDaemon, error) {
	entries := make([]roleTable.Entry, 0, len(cfg.Switches))
	for _, sw := range cfg.Switches {
		entries = append(entries, roleTable.Entry{
			Dpid:           sw.Dpid,
			GatewayPort:    sw.GatewayPort,
			DhcpServerPort: sw.DhcpServerPort,
		})
	}
	roles, err := roleTable.NewTable(entries)
	if err != nil {
		return nil, err
	}

	gwMac, gwIP, err := cfg.Gateway.Parse()
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	dhcpMac, dhcpIP, err := cfg.DhcpServer.Parse()
	if err != nil {
		return nil, fmt.Errorf("dhcpServer: %w", err)
	}

	eng := engine.NewEngine(
		engine.Identity{Name: "gateway", MAC: gwMac, IP: gwIP},
		engine.Identity{Name: "dhcp-server", MAC: dhcpMac, IP: dhcpIP},
		engine.Policy{FloodUnknownUnicastUplink: cfg.Policy.UnknownUnicastUplink == config.PolicyFlood})

	d := &hsiaDaemon{cfg: cfg}
	d.mgr = switchMgr.NewSwitchMgr(roles, eng, cfg.Policy.MacAging)
	d.ctrl = ofctrl.NewController(switchMgr.NewOfApp(d.mgr))
	d.api = api.NewServer(d.mgr)

	return d, nil
}

// Openflow target an ovs bridge should connect to for a listen address
func controllerTarget(listen string) (string, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid listen port %q", port)
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return "tcp:" + net.JoinHostPort(host, port), nil
}

// Create the configured ovs bridge and point it at this controller
func attachBridge(cfg *config.Config) (*ovsdriver.OvsDriver, error) {
	target, err := controllerTarget(cfg.Listen)
	if err != nil {
		return nil, err
	}

	drv, err := ovsdriver.NewOvsDriver(cfg.Ovs.Host, cfg.Ovs.Port, cfg.Ovs.Bridge)
	if err != nil {
		return nil, err
	}

	if err := drv.EnsureBridge(); err != nil {
		drv.Delete()
		return nil, fmt.Errorf("creating bridge %s: %w", cfg.Ovs.Bridge, err)
	}
	if err := drv.SetController(target); err != nil {
		drv.Delete()
		return nil, fmt.Errorf("setting controller of %s: %w", cfg.Ovs.Bridge, err)
	}

	return drv, nil
}

func run(cfg *config.Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.mgr.Stop()

	if err := d.ctrl.Bind(cfg.Listen); err != nil {
		return fmt.Errorf("openflow listen %s: %w", cfg.Listen, err)
	}
	defer d.ctrl.Delete()

	errChan := make(chan error, 2)

	go func() {
		errChan <- d.ctrl.Serve()
	}()

	go func() {
		errChan <- d.api.ListenAndServe(cfg.ApiPort)
	}()

	if cfg.Ovs.Bridge != "" {
		drv, err := attachBridge(cfg)
		if err != nil {
			log.Errorf("Error attaching ovs bridge: %v", err)
		} else {
			defer drv.Delete()
			log.Infof("Bridge %s attached to the controller", cfg.Ovs.Bridge)
		}
	}

	log.Infof("hsiad running with %d configured switches", len(cfg.Switches))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Infof("Received %v, shutting down", sig)
		return nil
	case err := <-errChan:
		return err
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
