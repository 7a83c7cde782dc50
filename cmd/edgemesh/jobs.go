package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgemesh/edgemesh/pkg/types"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Submit and inspect jobs",
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Submit a new job",
	Long: `Submit a job that fans out into tasks an agent can pull.

Examples:
  # Ten generated embedding tasks
  edgemesh jobs create --type EMBEDDINGS --count 10

  # One task per item, all pointing at the same source document
  edgemesh jobs create --type TOKENIZE --item ch1 --item ch2 --payload-ref s3://corpus/book.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskType, _ := cmd.Flags().GetString("type")
		count, _ := cmd.Flags().GetInt("count")
		items, _ := cmd.Flags().GetStringSlice("item")
		payloadRef, _ := cmd.Flags().GetString("payload-ref")

		req := types.CreateJobRequest{
			Type:         taskType,
			TaskCount:    count,
			PayloadItems: items,
			PayloadRef:   payloadRef,
		}
		if cmd.Flags().Changed("max-retries") {
			retries, _ := cmd.Flags().GetInt("max-retries")
			req.MaxTaskRetries = &retries
		}

		c := clientFromFlags(cmd)
		job, err := c.CreateJob(req)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Job created: %s (%s, %d tasks)\n", job.ID, job.Type, job.TotalTasks)
		return nil
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		taskType, _ := cmd.Flags().GetString("type")
		nodeID, _ := cmd.Flags().GetString("node")

		c := clientFromFlags(cmd)
		jobs, err := c.ListJobs(status, taskType, nodeID)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		fmt.Printf("%-18s %-12s %-10s %9s %7s  %s\n",
			"ID", "TYPE", "STATUS", "DONE", "FAILED", "CREATED")
		for _, j := range jobs {
			fmt.Printf("%-18s %-12s %-10s %5d/%-3d %7d  %s\n",
				j.ID, j.Type, j.Status, j.CompletedTasks, j.TotalTasks, j.FailedTasks, ago(j.CreatedAt))
		}
		return nil
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get JOB_ID",
	Short: "Show one job with derived progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		job, err := c.GetJob(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Job: %s\n", job.ID)
		fmt.Printf("  Type:      %s\n", job.Type)
		fmt.Printf("  Status:    %s\n", job.Status)
		fmt.Printf("  Progress:  %d/%d completed, %d failed, %d retries\n",
			job.CompletedTasks, job.TotalTasks, job.FailedTasks, job.TotalRetries)
		if len(job.AssignedNodes) > 0 {
			fmt.Printf("  Nodes:     %s\n", strings.Join(job.AssignedNodes, ", "))
		}
		if job.Error != "" {
			fmt.Printf("  Error:     %s\n", job.Error)
		}
		fmt.Printf("  Created:   %s\n", job.CreatedAt.Format(time.RFC3339))
		if job.CompletedAt != nil {
			fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var jobsTasksCmd = &cobra.Command{
	Use:   "tasks JOB_ID",
	Short: "List a job's tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		tasks, err := c.JobTasks(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%-18s %-10s %-20s %s\n", "ID", "STATUS", "NODE", "RETRIES")
		for _, task := range tasks {
			node := task.AssignedNodeID
			if node == "" {
				node = "-"
			}
			fmt.Printf("%-18s %-10s %-20s %d/%d\n",
				task.ID, task.Status, node, task.Retries, task.MaxRetries)
		}
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel JOB_ID",
	Short: "Cancel a job and its unfinished tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		c := clientFromFlags(cmd)
		job, err := c.UpdateJobStatus(args[0], "CANCELLED", reason)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Job cancelled: %s\n", job.ID)
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsCreateCmd)
	jobsCmd.AddCommand(jobsLsCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsTasksCmd)
	jobsCmd.AddCommand(jobsCancelCmd)

	addClientFlags(jobsCreateCmd)
	addClientFlags(jobsLsCmd)
	addClientFlags(jobsGetCmd)
	addClientFlags(jobsTasksCmd)
	addClientFlags(jobsCancelCmd)

	jobsCreateCmd.Flags().String("type", "", "Task type (INFERENCE, EMBEDDINGS, INDEX, TOKENIZE, PREPROCESS)")
	jobsCreateCmd.Flags().Int("count", 0, "Number of generated tasks")
	jobsCreateCmd.Flags().StringSlice("item", nil, "Payload item; one task per item")
	jobsCreateCmd.Flags().String("payload-ref", "", "Shared payload reference (URL, path, s3://...)")
	jobsCreateCmd.Flags().Int("max-retries", 2, "Retry budget per task")
	_ = jobsCreateCmd.MarkFlagRequired("type")

	jobsLsCmd.Flags().String("status", "", "Filter by job status")
	jobsLsCmd.Flags().String("type", "", "Filter by task type")
	jobsLsCmd.Flags().String("node", "", "Filter by assigned node")

	jobsCancelCmd.Flags().String("reason", "", "Reason recorded on the job")

	rootCmd.AddCommand(jobsCmd)
}
