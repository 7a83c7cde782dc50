package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgemesh/edgemesh/pkg/client"
	"github.com/edgemesh/edgemesh/pkg/config"
	"github.com/edgemesh/edgemesh/pkg/coordinator"
	"github.com/edgemesh/edgemesh/pkg/log"
	"github.com/edgemesh/edgemesh/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "edgemesh",
	Short: "EdgeMesh - LAN worker pool coordinator",
	Long: `EdgeMesh turns a handful of heterogeneous LAN machines into one worker
pool: nodes register and heartbeat, jobs fan out into leased tasks that
agents pull, and dashboards follow progress over SSE.

Single binary, single SQLite file, no external services.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"EdgeMesh version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("EdgeMesh version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// Coordinator command

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the coordinator process",
	Long: `Run the EdgeMesh coordinator: node registry, job queue, scheduler,
staleness and lease monitors, and the HTTP API live in this one process.

Configuration resolves from built-in defaults, then the optional YAML file,
then environment variables, then flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}
		applyFlagOverrides(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		metrics.SetVersion(Version)

		fmt.Println("Starting EdgeMesh coordinator...")
		fmt.Printf("  Listen: %s\n", cfg.ListenAddr())
		fmt.Printf("  Database: %s\n", cfg.DBPath)
		fmt.Println()

		coord, err := coordinator.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create coordinator: %v", err)
		}
		fmt.Println("✓ Store opened and migrated")

		coord.Start()
		fmt.Println("✓ Monitors, metrics and API started")
		fmt.Println()
		fmt.Println("Coordinator is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-coord.Err():
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		if err := coord.Stop(); err != nil {
			return fmt.Errorf("failed to shutdown: %v", err)
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	coordinatorCmd.Flags().String("config", "", "Path to YAML config file")
	coordinatorCmd.Flags().String("host", "", "Listen host (overrides config)")
	coordinatorCmd.Flags().Int("port", 0, "Listen port (overrides config)")
	coordinatorCmd.Flags().String("db", "", "SQLite database path (overrides config)")
	coordinatorCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	coordinatorCmd.Flags().Bool("log-json", false, "Emit JSON logs instead of console output")
	coordinatorCmd.Flags().String("shared-secret", "", "Shared secret required on agent and task endpoints")
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath, _ = cmd.Flags().GetString("db")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
	}
	if cmd.Flags().Changed("shared-secret") {
		cfg.SharedSecret, _ = cmd.Flags().GetString("shared-secret")
	}
}

// Client plumbing shared by the operator subcommands

const defaultCoordinatorURL = "http://127.0.0.1:8000"

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("coordinator", defaultCoordinatorURL, "Coordinator base URL")
	cmd.Flags().String("secret", "", "Shared secret (falls back to EDGE_MESH_SHARED_SECRET)")
}

func clientFromFlags(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("coordinator")
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = os.Getenv("EDGE_MESH_SHARED_SECRET")
	}
	return client.NewWithSecret(addr, secret)
}
