package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/calobozan/mcpbridge/internal/client"
	"github.com/calobozan/mcpbridge/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfg *config.Config

	// Global flags
	adminPort int
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "mcpbridge",
	Short: "MCP Bridge - aggregate multiple MCP tool providers behind one hub",
	Long: `mcpbridge bridges local and remote Model Context Protocol tool providers
into a single aggregating WebSocket hub, with an admin API for managing
endpoints and per-tool policy.

Most commands communicate with a running mcpbridge server (like ollama).
Start it with: mcpbridge serve

Commands that require the server: endpoint, tool
Commands that work standalone: serve`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "mcpbridge" {
			return nil
		}
		return initApp(cmd)
	},
}

func initApp(cmd *cobra.Command) error {
	standaloneCommands := map[string]bool{
		"serve": true,
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if standaloneCommands[cmd.Name()] {
		return cfg.EnsureDirs()
	}

	apiClient = client.NewFromPort(adminPort, cfg.AuthToken)
	if err := apiClient.Ping(); err != nil {
		return fmt.Errorf("cannot connect to mcpbridge admin API on port %d: %w\n\nIs the server running? Start it with: mcpbridge serve", adminPort, err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&adminPort, "port", "p", 9901, "Admin API port to connect to")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(endpointCmd)
	rootCmd.AddCommand(toolCmd)
}

// endpoint - endpoint CRUD, all via the admin API client
var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Manage hub endpoints",
}

var endpointListJSON bool
var endpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoints, err := apiClient.ListEndpoints()
		if err != nil {
			return err
		}

		if endpointListJSON {
			data, _ := json.MarshalIndent(endpoints, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(endpoints) == 0 {
			fmt.Println("No endpoints configured.")
			return nil
		}

		fmt.Printf("%-4s %-20s %-40s %-8s %-12s\n", "ID", "NAME", "URL", "ENABLED", "STATUS")
		for _, e := range endpoints {
			fmt.Printf("%-4d %-20s %-40s %-8t %-12s\n", e.ID, e.Name, e.URL, e.Enabled, e.Status)
		}
		return nil
	},
}

var endpointAddEnabled bool
var endpointAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Register a new endpoint",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := apiClient.AddEndpoint(args[0], args[1], endpointAddEnabled)
		if err != nil {
			return err
		}
		fmt.Printf("Added endpoint %s (id=%d)\n", ep.Name, ep.ID)
		return nil
	},
}

var endpointUpdateEnabled bool
var endpointUpdateCmd = &cobra.Command{
	Use:   "update <id> <name> <url>",
	Short: "Update an endpoint's name, URL, and enabled state",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid endpoint id: %s", args[0])
		}
		ep, err := apiClient.UpdateEndpoint(id, args[1], args[2], endpointUpdateEnabled)
		if err != nil {
			return err
		}
		fmt.Printf("Updated endpoint %s\n", ep.Name)
		return nil
	},
}

var endpointRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid endpoint id: %s", args[0])
		}
		if err := apiClient.DeleteEndpoint(id); err != nil {
			return err
		}
		fmt.Println("Removed")
		return nil
	},
}

var endpointBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Print a JSON backup of all endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		backup, err := apiClient.BackupEndpoints()
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(backup, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	endpointListCmd.Flags().BoolVar(&endpointListJSON, "json", false, "Output as JSON")
	endpointAddCmd.Flags().BoolVar(&endpointAddEnabled, "enabled", false, "Enable the endpoint immediately")
	endpointUpdateCmd.Flags().BoolVar(&endpointUpdateEnabled, "enabled", false, "Whether the endpoint should be enabled")

	endpointCmd.AddCommand(endpointListCmd)
	endpointCmd.AddCommand(endpointAddCmd)
	endpointCmd.AddCommand(endpointUpdateCmd)
	endpointCmd.AddCommand(endpointRemoveCmd)
	endpointCmd.AddCommand(endpointBackupCmd)
}

// tool - per-provider tool policy management
var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Manage per-provider tool policy",
}

var toolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tool-setting overrides",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := apiClient.ListToolSettings()
		if err != nil {
			return err
		}
		if len(settings) == 0 {
			fmt.Println("No tool overrides stored.")
			return nil
		}
		fmt.Printf("%-20s %-30s %-10s %s\n", "PROVIDER", "TOOL", "DISABLED", "CUSTOM DESCRIPTION")
		for _, s := range settings {
			fmt.Printf("%-20s %-30s %-10t %s\n", s.ProviderName, s.ToolName, s.Disabled, s.CustomDescription)
		}
		return nil
	},
}

var toolDisableCmd = &cobra.Command{
	Use:   "disable <provider> <tool>",
	Short: "Disable a provider's tool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiClient.ToggleTool(args[0], args[1], true)
	},
}

var toolEnableCmd = &cobra.Command{
	Use:   "enable <provider> <tool>",
	Short: "Re-enable a previously disabled tool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiClient.ToggleTool(args[0], args[1], false)
	},
}

var toolDescribeCmd = &cobra.Command{
	Use:   "describe <provider> <tool> <description>",
	Short: "Set a custom display description for a tool",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiClient.UpdateToolDescription(args[0], args[1], args[2])
	},
}

var toolResetCmd = &cobra.Command{
	Use:   "reset <provider> <tool>",
	Short: "Clear a tool's override, restoring provider defaults",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiClient.ResetTool(args[0], args[1])
	},
}

var toolRefreshCmd = &cobra.Command{
	Use:   "refresh [provider]",
	Short: "Ask the hub to re-fetch tools/list (from one provider, or all)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := ""
		if len(args) == 1 {
			provider = args[0]
		}
		return apiClient.RefreshTools(provider)
	},
}

func init() {
	toolCmd.AddCommand(toolListCmd)
	toolCmd.AddCommand(toolDisableCmd)
	toolCmd.AddCommand(toolEnableCmd)
	toolCmd.AddCommand(toolDescribeCmd)
	toolCmd.AddCommand(toolResetCmd)
	toolCmd.AddCommand(toolRefreshCmd)
}
