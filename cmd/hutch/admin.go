package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackpod/hutch/pkg/client"
	"github.com/stackpod/hutch/pkg/types"
)

const defaultAddr = "127.0.0.1:8090"

// Sessions commands
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage credential sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live credential sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		c := client.NewClient(addr)

		list, err := c.ListSessions()
		if err != nil {
			return err
		}

		if list.Count == 0 {
			fmt.Println("No live sessions.")
			return nil
		}
		fmt.Printf("%-16s %s\n", "ID", "FULL ID")
		for _, s := range list.Sessions {
			fmt.Printf("%-16s %s\n", s.ID, s.FullID)
		}
		fmt.Printf("\n%d session(s)\n", list.Count)
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsListCmd.Flags().String("addr", defaultAddr, "Daemon address")
}

// Containers commands
var containersCmd = &cobra.Command{
	Use:   "containers",
	Short: "Manage browser containers",
}

var containersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		c := client.NewClient(addr)

		list, err := c.ListContainers()
		if err != nil {
			return err
		}

		fmt.Printf("%-14s %-16s %-10s %s\n", "ID", "IP", "STATUS", "SESSION")
		for _, ctr := range list.Containers {
			session := ctr.SessionID
			if session == "" {
				session = "-"
			}
			id := ctr.ID
			if len(id) > 12 {
				id = id[:12]
			}
			fmt.Printf("%-14s %-16s %-10s %s\n", id, ctr.IP, ctr.Status, session)
		}
		fmt.Printf("\nTotal: %d  Available: %d  Assigned: %d\n",
			list.Total, list.Available, list.Assigned)
		return nil
	},
}

var containersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision one container outside the warm pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		proxyHost, _ := cmd.Flags().GetString("proxy-host")
		proxyPort, _ := cmd.Flags().GetInt("proxy-port")
		proxyUser, _ := cmd.Flags().GetString("proxy-user")
		proxyPass, _ := cmd.Flags().GetString("proxy-pass")

		var upstream *types.ProxyUpstream
		if proxyHost != "" {
			upstream = &types.ProxyUpstream{
				Host: proxyHost,
				Port: proxyPort,
				User: proxyUser,
				Pass: proxyPass,
			}
		}

		c := client.NewClient(addr)
		fmt.Println("Creating container...")
		info, err := c.CreateContainer(upstream)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Container created\n")
		fmt.Printf("  ID:     %s\n", info.ContainerID)
		fmt.Printf("  IP:     %s\n", info.IP)
		fmt.Printf("  CDP:    %s\n", info.CDPURL)
		fmt.Printf("  Status: %s\n", info.Status)
		return nil
	},
}

var containersDestroyCmd = &cobra.Command{
	Use:   "destroy ID",
	Short: "Destroy a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		c := client.NewClient(addr)

		if err := c.DestroyContainer(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Container %s destroyed\n", args[0])
		return nil
	},
}

func init() {
	containersCmd.AddCommand(containersListCmd)
	containersCmd.AddCommand(containersCreateCmd)
	containersCmd.AddCommand(containersDestroyCmd)

	containersListCmd.Flags().String("addr", defaultAddr, "Daemon address")
	containersCreateCmd.Flags().String("addr", defaultAddr, "Daemon address")
	containersCreateCmd.Flags().String("proxy-host", "", "Upstream proxy host")
	containersCreateCmd.Flags().Int("proxy-port", 0, "Upstream proxy port")
	containersCreateCmd.Flags().String("proxy-user", "", "Upstream proxy username")
	containersCreateCmd.Flags().String("proxy-pass", "", "Upstream proxy password")
	containersDestroyCmd.Flags().String("addr", defaultAddr, "Daemon address")
}

// Health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show daemon health",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		c := client.NewClient(addr)

		h, err := c.Health()
		if err != nil {
			return err
		}

		fmt.Printf("Status:        %s\n", h.Status)
		fmt.Printf("Uptime:        %s\n", h.Uptime)
		fmt.Printf("Sessions:      %d\n", h.Sessions)
		fmt.Printf("Auth sessions: %d\n", h.AuthSessions)
		fmt.Printf("Encryption:    %s\n", h.Encryption)
		fmt.Printf("Modules:")
		for name := range h.Modules {
			fmt.Printf(" %s", name)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	healthCmd.Flags().String("addr", defaultAddr, "Daemon address")
}
