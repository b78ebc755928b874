package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect reindexing jobs",
	Long: `List recent jobs or inspect a specific job by ID.

Examples:
  reindexer jobs                                        # List recent jobs
  reindexer jobs 4f7c1f31-0d3e-4a6b-9a75-2f6c70c3f1ab   # Show one job`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum number of jobs to list")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := jobStore.ListJobs(ctx, jobsLimit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-12s %-10s %-10s %s\n", "ID", "STATUS", "SUCCESS", "FAILED", "STARTED")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, job := range jobs {
		fmt.Printf("%-36s %-12s %-10d %-10d %s\n",
			job.ID, job.Status,
			job.Stats.JobStats.SuccessRecords,
			job.Stats.JobStats.FailedRecords,
			job.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func showJob(ctx context.Context, raw string) error {
	jobID, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", raw, err)
	}

	job, err := jobStore.FindJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	printJob(job)
	fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if !job.EndedAt.IsZero() {
		fmt.Printf("  Ended: %s\n", job.EndedAt.Format(time.RFC3339))
	}

	partitions, err := jobStore.PartitionsForJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	if len(partitions) > 0 {
		fmt.Printf("\n  Partitions (%d):\n", len(partitions))
		for _, p := range partitions {
			fmt.Printf("    #%-4d %-20s [%d:%d) %-12s %d/%d\n",
				p.PartitionID, p.EntityType, p.Offset, p.Offset+p.Limit,
				p.Status, p.SuccessCount, p.Limit)
		}
	}
	return nil
}
