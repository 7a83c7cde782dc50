package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgemesh/edgemesh/pkg/types"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Inspect and manage registered nodes",
}

var nodesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		nodes, err := c.ListNodes()
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			fmt.Println("No nodes registered.")
			return nil
		}

		fmt.Printf("%-20s %-8s %-16s %6s %6s %8s  %s\n",
			"ID", "STATUS", "IP", "CPU%", "RAM%", "RUNNING", "LAST SEEN")
		for _, n := range nodes {
			fmt.Printf("%-20s %-8s %-16s %6.1f %6.1f %8d  %s\n",
				n.Identity.NodeID,
				n.Status,
				n.Identity.IP,
				n.Metrics.CPUPercent,
				n.Metrics.RAMPercent,
				n.Metrics.RunningJobs,
				ago(n.LastSeen),
			)
		}
		return nil
	},
}

var nodesGetCmd = &cobra.Command{
	Use:   "get NODE_ID",
	Short: "Show one node in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		history, _ := cmd.Flags().GetInt("history")

		c := clientFromFlags(cmd)
		detail, err := c.GetNode(args[0], history)
		if err != nil {
			return err
		}

		printNode(detail.Node)
		if len(detail.MetricsHistory) > 0 {
			fmt.Println("  Recent heartbeats:")
			for _, m := range detail.MetricsHistory {
				fmt.Printf("    %s  cpu %5.1f%%  ram %5.1f%%  running %d\n",
					m.HeartbeatTS.Format("15:04:05"), m.CPUPercent, m.RAMPercent, m.RunningJobs)
			}
		}
		return nil
	},
}

var nodesPolicyCmd = &cobra.Command{
	Use:   "policy NODE_ID",
	Short: "Update a node's scheduling policy",
	Long: `Update a node's scheduling policy. Only the flags you pass change;
every other field keeps its current value.

Examples:
  # Take a node out of scheduling without losing its heartbeats
  edgemesh nodes policy rpi-01 --enabled=false

  # Let a beefy box run three tasks at once, embeddings only
  edgemesh nodes policy mac-mini-01 --max-concurrent 3 --allow EMBEDDINGS`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		detail, err := c.GetNode(args[0], 0)
		if err != nil {
			return err
		}
		policy := detail.Node.Policy

		if cmd.Flags().Changed("enabled") {
			policy.Enabled, _ = cmd.Flags().GetBool("enabled")
		}
		if cmd.Flags().Changed("max-concurrent") {
			policy.MaxConcurrent, _ = cmd.Flags().GetInt("max-concurrent")
		}
		if cmd.Flags().Changed("cpu-cap") {
			policy.CPUCapPercent, _ = cmd.Flags().GetInt("cpu-cap")
		}
		if cmd.Flags().Changed("ram-cap") {
			policy.RAMCapPercent, _ = cmd.Flags().GetInt("ram-cap")
		}
		if cmd.Flags().Changed("gpu-cap") {
			gpuCap, _ := cmd.Flags().GetInt("gpu-cap")
			policy.GPUCapPercent = &gpuCap
		}
		if cmd.Flags().Changed("allow") {
			raw, _ := cmd.Flags().GetStringSlice("allow")
			allow := make([]types.TaskType, 0, len(raw))
			for _, item := range raw {
				tt, err := types.ParseTaskType(item)
				if err != nil {
					return err
				}
				allow = append(allow, tt)
			}
			policy.TaskAllowlist = allow
		}

		node, err := c.SetNodePolicy(args[0], policy)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Policy updated: %s\n", node.Identity.NodeID)
		fmt.Printf("  enabled=%t max_concurrent=%d cpu_cap=%d%% ram_cap=%d%% allow=%s\n",
			node.Policy.Enabled, node.Policy.MaxConcurrent,
			node.Policy.CPUCapPercent, node.Policy.RAMCapPercent,
			joinTypes(node.Policy.TaskAllowlist))
		return nil
	},
}

func init() {
	nodesCmd.AddCommand(nodesLsCmd)
	nodesCmd.AddCommand(nodesGetCmd)
	nodesCmd.AddCommand(nodesPolicyCmd)

	addClientFlags(nodesLsCmd)
	addClientFlags(nodesGetCmd)
	addClientFlags(nodesPolicyCmd)

	nodesGetCmd.Flags().Int("history", 0, "Include up to N recent heartbeat samples")

	nodesPolicyCmd.Flags().Bool("enabled", true, "Allow the scheduler to use this node")
	nodesPolicyCmd.Flags().Int("max-concurrent", 1, "Tasks the node may lease at once")
	nodesPolicyCmd.Flags().Int("cpu-cap", 100, "CPU utilization ceiling percent")
	nodesPolicyCmd.Flags().Int("ram-cap", 100, "RAM utilization ceiling percent")
	nodesPolicyCmd.Flags().Int("gpu-cap", 100, "GPU utilization ceiling percent")
	nodesPolicyCmd.Flags().StringSlice("allow", nil, "Allowed task types (replaces the whole list)")

	rootCmd.AddCommand(nodesCmd)
}

func printNode(n *types.Node) {
	fmt.Printf("Node: %s (%s)\n", n.Identity.NodeID, n.Identity.DisplayName)
	fmt.Printf("  Status:      %s\n", n.Status)
	fmt.Printf("  Address:     %s:%d\n", n.Identity.IP, n.Identity.Port)
	fmt.Printf("  CPU threads: %d\n", n.Capabilities.CPUThreads)
	fmt.Printf("  RAM:         %.1f GB\n", n.Capabilities.RAMTotalGB)
	if n.Capabilities.HasGPU {
		gpu := n.Capabilities.GPUName
		if gpu == "" {
			gpu = "yes"
		}
		if n.Capabilities.VRAMTotalGB != nil {
			gpu = fmt.Sprintf("%s (%.1f GB VRAM)", gpu, *n.Capabilities.VRAMTotalGB)
		}
		fmt.Printf("  GPU:         %s\n", gpu)
	}
	fmt.Printf("  Task types:  %s\n", joinTypes(n.Capabilities.TaskTypes))
	fmt.Printf("  Policy:      enabled=%t max_concurrent=%d cpu_cap=%d%% ram_cap=%d%%\n",
		n.Policy.Enabled, n.Policy.MaxConcurrent, n.Policy.CPUCapPercent, n.Policy.RAMCapPercent)
	fmt.Printf("  Running:     %d\n", n.Metrics.RunningJobs)
	fmt.Printf("  Last seen:   %s (%s)\n", n.LastSeen.Format(time.RFC3339), ago(n.LastSeen))
}

func joinTypes(tt []types.TaskType) string {
	if len(tt) == 0 {
		return "all"
	}
	names := make([]string, len(tt))
	for i, t := range tt {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s ago", time.Since(t).Round(time.Second))
}
