package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/pablomguevara/my-mininet/pkg/ovsdriver"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

const dpidHelp = `A dpid is decimal (4), 0x prefixed hex (0x4), colon separated bytes
(00:00:00:00:00:00:00:04) or the 16 hex digit form the switch list prints.
Printed ids made only of digits that do not start with 0 need the 0x prefix.`

var (
	serverURL string
	ovsHost   string
	ovsPort   int
)

func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "hsiactl",
		Short:        "Inspect a running hsiad controller",
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			startConsole(out)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8000", "hsiad api url")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	rootCmd.AddCommand(apiCommands(out)...)
	rootCmd.AddCommand(ovsDumpCmd(out))

	return rootCmd
}

func client() *apiClient {
	return newApiClient(serverURL)
}

// Commands reading the controller api. Shared by the command line and the
// console.
func apiCommands(out io.Writer) []*cobra.Command {
	switchesCmd := &cobra.Command{
		Use:   "switches",
		Short: "List switches known to the controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := client().Switches()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "DPID\tSTATE\tCONFIGURED\tPORTS\tDOWNLINKS\tMACS\tPACKET-IN")
			for _, sw := range list {
				fmt.Fprintf(w, "%s\t%s\t%v\t%d\t%d\t%d\t%d\n", sw.Dpid, sw.State, sw.Configured,
					len(sw.Ports), len(sw.DownlinkPorts), sw.MacEntries, sw.Counters.PacketIn)
			}
			return w.Flush()
		},
	}

	switchCmd := &cobra.Command{
		Use:   "switch [dpid]",
		Short: "Show one switch with its counters",
		Long:  dpidHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sw, err := client().Switch(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Switch %s: %s\n", sw.Dpid, sw.State)
			if !sw.Configured {
				fmt.Fprintf(out, "  not configured, all traffic dropped\n")
			} else {
				fmt.Fprintf(out, "  gateway port %d, dhcp server port %d\n", sw.GatewayPort, sw.DhcpServerPort)
			}
			fmt.Fprintf(out, "  ports %v, downlinks %v\n", sw.Ports, sw.DownlinkPorts)
			fmt.Fprintf(out, "  packet-in %d, parse errors %d, dispatch errors %d, rules %d\n",
				sw.Counters.PacketIn, sw.Counters.ParseErrors, sw.Counters.DispatchErrors, sw.Counters.RulesInstalled)

			printCounts(out, "decisions", sw.Counters.Decisions)
			printCounts(out, "causes", sw.Counters.Causes)
			return nil
		},
	}

	macsCmd := &cobra.Command{
		Use:   "macs [dpid]",
		Short: "Show the learned macs of a switch",
		Long:  dpidHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := client().Macs(args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "MAC\tPORT\tAGE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%d\t%s\n", e.MAC, e.Port, e.Age)
			}
			return w.Flush()
		},
	}

	identitiesCmd := &cobra.Command{
		Use:   "identities",
		Short: "Show the identities answered by the ARP proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := client().Identities()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMAC\tIP")
			for _, id := range ids {
				fmt.Fprintf(w, "%s\t%s\t%s\n", id.Name, id.MAC, id.IP)
			}
			return w.Flush()
		},
	}

	return []*cobra.Command{switchesCmd, switchCmd, macsCmd, identitiesCmd}
}

// Non zero counters only
func printCounts(out io.Writer, title string, counts map[string]uint64) {
	keys := make([]string, 0, len(counts))
	for k, v := range counts {
		if v != 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)

	fmt.Fprintf(out, "  %s:", title)
	for _, k := range keys {
		fmt.Fprintf(out, " %s=%d", k, counts[k])
	}
	fmt.Fprintln(out)
}

// Dump the ovsdb tables of the local ovs
func ovsDumpCmd(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ovs-dump",
		Short: "Dump the ovsdb cache of an ovs server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			drv, err := ovsdriver.NewOvsDriver(ovsHost, ovsPort, "")
			if err != nil {
				return err
			}
			defer drv.Delete()

			drv.PrintCache(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&ovsHost, "ovs-host", "localhost", "ovsdb server host")
	cmd.Flags().IntVar(&ovsPort, "ovs-port", 6640, "ovsdb server port")

	return cmd
}

// Run one console line through the api commands
func executeLine(out io.Writer, input string) error {
	args := strings.Fields(input)
	if len(args) == 0 {
		return nil
	}

	cmd := &cobra.Command{Use: "", SilenceUsage: true, SilenceErrors: true}
	cmd.AddCommand(apiCommands(out)...)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)

	return cmd.Execute()
}

func startConsole(out io.Writer) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(input string) []string {
		var c []string
		for _, cmd := range []string{"switches", "switch ", "macs ", "identities", "help", "exit"} {
			if strings.HasPrefix(cmd, input) {
				c = append(c, cmd)
			}
		}
		return c
	})

	historyFile := filepath.Join(os.Getenv("HOME"), ".hsiactl_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	fmt.Fprintf(out, "Connected to %s. Type 'help' for commands or 'exit' to quit.\n", serverURL)

	for {
		input, err := line.Prompt("hsia> ")
		if err != nil {
			if err == liner.ErrPromptAborted {
				continue
			}
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == "exit" || input == "quit" {
			break
		}

		if err := executeLine(out, input); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}

	if f, err := os.Create(historyFile); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
