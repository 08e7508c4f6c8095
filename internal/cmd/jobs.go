package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/dcpguard/internal/config"
	"github.com/dativo-io/dcpguard/internal/jobs"
	"github.com/dativo-io/dcpguard/internal/jobstore"
)

var (
	jobsKind   string
	jobsStatus string
	jobsLimit  int
	jobsSince  time.Duration
	jobsAge    time.Duration
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Query persisted job records",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job records",
	RunE:  jobsList,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get [job-id]",
	Short: "Print a job record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  jobsGet,
}

var jobsVerifyCmd = &cobra.Command{
	Use:   "verify [job-id]",
	Short: "Verify the HMAC signature of a job record",
	Args:  cobra.ExactArgs(1),
	RunE:  jobsVerify,
}

var jobsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished job records older than --older-than",
	RunE:  jobsPurge,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsKind, "kind", "", "Filter by job kind (bench_text, scan)")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status (queued, running, done, error)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum records to show")
	jobsListCmd.Flags().DurationVar(&jobsSince, "since", 0, "Only records created within this duration")
	jobsPurgeCmd.Flags().DurationVar(&jobsAge, "older-than", config.DefaultJobRetention, "Minimum age of purged records")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsVerifyCmd)
	jobsCmd.AddCommand(jobsPurgeCmd)
	rootCmd.AddCommand(jobsCmd)
}

func openJobStore() (*jobstore.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return jobstore.NewStore(cfg.JobsDBPath(), cfg.SigningKey)
}

func jobsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	q := jobstore.Query{Kind: jobsKind, Limit: jobsLimit}
	if jobsStatus != "" {
		st, err := jobs.ParseStatus(jobsStatus)
		if err != nil {
			return err
		}
		q.Status = st
	}
	if jobsSince > 0 {
		q.Since = time.Now().Add(-jobsSince)
	}

	store, err := openJobStore()
	if err != nil {
		return fmt.Errorf("initializing job store: %w", err)
	}
	defer store.Close()

	records, err := store.List(ctx, q)
	if err != nil {
		return fmt.Errorf("querying job records: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No job records found.")
		return nil
	}
	renderJobList(cmd.OutOrStdout(), records)
	return nil
}

func jobsGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openJobStore()
	if err != nil {
		return fmt.Errorf("initializing job store: %w", err)
	}
	defer store.Close()

	rec, err := store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("getting job record: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), rec)
}

func jobsVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	id := args[0]
	store, err := openJobStore()
	if err != nil {
		return fmt.Errorf("initializing job store: %w", err)
	}
	defer store.Close()

	valid, err := store.Verify(ctx, id)
	if err != nil {
		return fmt.Errorf("verifying job record: %w", err)
	}
	renderVerifyResult(cmd.OutOrStdout(), id, valid)
	if !valid {
		return fmt.Errorf("signature verification failed for %s", id)
	}
	return nil
}

func jobsPurge(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	store, err := openJobStore()
	if err != nil {
		return fmt.Errorf("initializing job store: %w", err)
	}
	defer store.Close()

	n, err := store.PurgeBefore(ctx, time.Now().Add(-jobsAge))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d job record(s).\n", n)
	return nil
}

// renderJobList writes one line per record (testable).
func renderJobList(w io.Writer, records []jobstore.Record) {
	fmt.Fprintf(w, "Job Records (showing %d):\n\n", len(records))
	for i := range records {
		r := &records[i]
		mark := "✓"
		switch r.Status {
		case jobs.StatusError:
			mark = "✗"
		case jobs.StatusQueued, jobs.StatusRunning:
			mark = "…"
		}
		errMark := ""
		if r.Error != "" {
			errMark = " [" + r.Error + "]"
		}
		fmt.Fprintf(w, "  %s %s | %s | %-10s | %-7s | %s%s\n",
			mark, r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Kind, r.Status, r.Language, errMark)
	}
}

// renderVerifyResult writes the verify outcome to w (testable).
func renderVerifyResult(w io.Writer, id string, valid bool) {
	if valid {
		fmt.Fprintf(w, "✓ Job %s: signature VALID (HMAC-SHA256 intact)\n", id)
	} else {
		fmt.Fprintf(w, "✗ Job %s: signature INVALID (possible tampering)\n", id)
	}
}
