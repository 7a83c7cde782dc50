package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgemesh/edgemesh/pkg/types"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster-wide views",
}

var clusterSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the aggregate cluster state",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		s, err := c.ClusterSummary()
		if err != nil {
			return err
		}

		fmt.Printf("Nodes:     %d total / %d online / %d stale / %d offline\n",
			s.TotalNodes, s.OnlineNodes, s.StaleNodes, s.OfflineNodes)
		fmt.Printf("Capacity:  %.1f CPU threads, %.1f GB RAM, %.1f GB VRAM\n",
			s.TotalEffectiveCPUThreads, s.TotalEffectiveRAMGB, s.TotalEffectiveVRAMGB)
		fmt.Printf("Inflight:  %d running tasks\n", s.ActiveRunningJobsTotal)
		if len(s.EligibleNodesByType) > 0 {
			fmt.Println("Eligible nodes by type:")
			for _, tt := range types.AllTaskTypes() {
				if n, ok := s.EligibleNodesByType[tt]; ok {
					fmt.Printf("  %-12s %d\n", tt, n)
				}
			}
		}
		return nil
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate TASK_TYPE",
	Short: "Dry-run the scheduler for a hypothetical task",
	Long: `Ask the scheduler where a task of the given type would land right now,
with every node's eligibility and score spelled out. Nothing is created.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requiresGPU, _ := cmd.Flags().GetBool("gpu")

		c := clientFromFlags(cmd)
		resp, err := c.SimulateSchedule(args[0], requiresGPU)
		if err != nil {
			return err
		}

		if resp.ChosenNodeID != nil {
			fmt.Printf("✓ Would schedule on: %s\n", *resp.ChosenNodeID)
		} else {
			fmt.Printf("No placement: %s\n", resp.Reason)
		}
		if len(resp.RankedCandidates) > 0 {
			fmt.Println("Candidates:")
			for _, cand := range resp.RankedCandidates {
				marker := " "
				if !cand.Eligible {
					marker = "x"
				}
				fmt.Printf("  [%s] %-20s score %.3f  %s\n",
					marker, cand.NodeID, cand.Score, strings.Join(cand.Reasons, "; "))
			}
		}
		return nil
	},
}

func init() {
	clusterCmd.AddCommand(clusterSummaryCmd)

	addClientFlags(clusterSummaryCmd)
	addClientFlags(simulateCmd)

	simulateCmd.Flags().Bool("gpu", false, "Require a GPU for the hypothetical task")

	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(simulateCmd)
}
