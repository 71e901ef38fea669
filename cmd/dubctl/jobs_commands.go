package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/dubbing-be/internal/bootstrap"
	"github.com/cuongbtq/dubbing-be/internal/domain"
	"github.com/cuongbtq/dubbing-be/internal/store"
)

type jobFilter struct {
	status  string
	kind    string
	videoID string
	limit   int
}

func (f *jobFilter) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.status, "status", "", "Only jobs with this status")
	cmd.Flags().StringVar(&f.kind, "kind", "", "Only jobs of this kind")
	cmd.Flags().StringVar(&f.videoID, "video", "", "Only jobs of this video")
	cmd.Flags().IntVar(&f.limit, "limit", 20, "Maximum number of jobs")
}

func (f *jobFilter) query() (store.JobQuery, error) {
	q := store.JobQuery{
		Status:  domain.JobStatus(f.status),
		Kind:    domain.JobKind(f.kind),
		VideoID: f.videoID,
		Limit:   f.limit,
	}
	if q.Status != "" && !q.Status.Valid() {
		return q, fmt.Errorf("unknown status %q", f.status)
	}
	if q.Limit <= 0 {
		return q, fmt.Errorf("limit must be positive")
	}
	return q, nil
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect pipeline jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsWatchCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var filter jobFilter
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := filter.query()
			if err != nil {
				return err
			}
			return ctx.withApp(cmd, false, func(app *bootstrap.App) error {
				jobs, err := app.Store.ListJobs(cmd.Context(), q)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(jobs)
				}
				printJobs(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}
	filter.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newJobsWatchCommand(ctx *commandContext) *cobra.Command {
	var filter jobFilter
	var once bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the job view every time it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := filter.query()
			if err != nil {
				return err
			}
			return ctx.withApp(cmd, false, func(app *bootstrap.App) error {
				wctx, cancel := context.WithCancel(cmd.Context())
				defer cancel()

				out := cmd.OutOrStdout()
				for snap := range app.Store.Subscribe(wctx, q) {
					fmt.Fprintf(out, "-- %s (%d jobs)\n", snap.TakenAt.Format(time.RFC3339), len(snap.Jobs))
					printJobs(out, snap.Jobs)
					if once {
						return nil
					}
				}
				return cmd.Context().Err()
			})
		},
	}
	filter.bind(cmd)
	cmd.Flags().BoolVar(&once, "once", false, "Exit after the first snapshot")
	return cmd
}

func printJobs(w io.Writer, jobs []domain.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs")
		return
	}
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			j.VideoID,
			string(j.Kind),
			string(j.Status),
			j.CurrentStep,
			strconv.Itoa(j.Attempt),
			j.UpdatedAt.Format(time.DateTime),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"ID", "Video", "Kind", "Status", "Step", "Attempt", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
}
