package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ThinkParQ/beegfs-sub011/internal/models"
	"github.com/ThinkParQ/beegfs-sub011/internal/resync"
)

// ResyncOptions holds flags for resync start
type ResyncOptions struct {
	*RootOptions
	Timestamp int64
	Timespan  string
	Restart   bool
}

// NewResyncCommand creates the resync command and its subcommands
func NewResyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Start, watch and abort buddy resyncs",
	}
	cmd.AddCommand(newResyncStartCommand(rootOpts))
	cmd.AddCommand(newResyncStatsCommand(rootOpts))
	cmd.AddCommand(newResyncAbortCommand(rootOpts))
	return cmd
}

func newResyncStartCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "start <group>",
		Short: "Start a resync of a mirror group",
		Long: `Start a resync of a mirror group on the server holding its primary.

Without --timestamp or --timespan the job syncs everything modified since
the secondary was last known good, or everything when that is unknown.

Examples:
  mirrorctl resync start 1
  mirrorctl resync start 1 --timespan 6h
  mirrorctl resync start 1 --timestamp 1700000000 --restart`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req := models.ResyncStartRequest{Timespan: opts.Timespan, Restart: opts.Restart}
			if cmd.Flags().Changed("timestamp") {
				ts := opts.Timestamp
				req.Timestamp = &ts
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			var started models.ResyncStartResponse
			path := fmt.Sprintf("/admin/groups/%d/resync", id)
			if err := opts.client().Do(ctx, "POST", path, req, &started); err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), started)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resync job %s started for group %d\n", started.JobID, started.GroupID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&opts.Timestamp, "timestamp", 0, "sync entries modified after this unix time")
	cmd.Flags().StringVar(&opts.Timespan, "timespan", "", "sync entries modified within this duration, e.g. 2h")
	cmd.Flags().BoolVar(&opts.Restart, "restart", false, "abort a running job first")
	cmd.MarkFlagsMutuallyExclusive("timestamp", "timespan")
	return cmd
}

func newResyncStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats [group]",
		Short:         "Show resync job statistics",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			if len(args) == 0 {
				var all struct {
					Jobs  []resync.Stats `json:"jobs"`
					Count int            `json:"count"`
				}
				if err := opts.client().Do(ctx, "GET", "/admin/resync", nil, &all); err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), all)
				}
				return printJobs(cmd.OutOrStdout(), all.Jobs)
			}

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var stats resync.Stats
			if err := opts.client().Do(ctx, "GET", fmt.Sprintf("/admin/groups/%d/resync", id), nil, &stats); err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			return printStats(cmd.OutOrStdout(), stats)
		},
	}
}

func newResyncAbortCommand(opts *RootOptions) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:           "abort <group>",
		Short:         "Abort the running resync of a mirror group",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			path := fmt.Sprintf("/admin/groups/%d/resync?wait=%t", id, wait)
			var stats resync.Stats
			if err := opts.client().Do(ctx, "DELETE", path, nil, &stats); err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resync job %s of group %d: %s\n", stats.JobID, id, stats.State)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the job stopped")
	return cmd
}

func printJobs(w io.Writer, jobs []resync.Stats) error {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].GroupID < jobs[j].GroupID })
	tw := newTable(w)
	fmt.Fprintln(tw, "GROUP\tJOB\tSTATE\tSTARTED\tDIRS\tFILES\tERRORS")
	for _, s := range jobs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.GroupID, s.JobID, s.State, ago(s.StartTime),
			count(s.SyncedDirs), count(s.SyncedFiles), count(jobErrors(s)))
	}
	return tw.Flush()
}

func printStats(w io.Writer, s resync.Stats) error {
	tw := newTable(w)
	rows := [][2]string{
		{"Job", s.JobID},
		{"Group", fmt.Sprintf("%d (%d -> %d)", s.GroupID, s.Primary, s.Secondary)},
		{"State", s.State},
		{"Since", ago(s.Since)},
		{"Started", ago(s.StartTime)},
		{"Ended", ago(s.EndTime)},
		{"Dirs", fmt.Sprintf("%s discovered, %s matched, %s synced, %s errors",
			count(s.DiscoveredDirs), count(s.MatchedDirs), count(s.SyncedDirs), count(s.ErrorDirs))},
		{"Files", fmt.Sprintf("%s discovered, %s matched, %s synced, %s errors",
			count(s.DiscoveredFiles), count(s.MatchedFiles), count(s.SyncedFiles), count(s.ErrorFiles))},
		{"Live changes", fmt.Sprintf("%s synced, %s errors", count(s.ModObjectsSynced), count(s.ModSyncErrors))},
		{"Sessions", fmt.Sprintf("%s of %s synced", count(s.SessionsSynced), count(s.SessionsToSync))},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1])
	}
	if s.SessionSyncError {
		fmt.Fprintln(tw, "Session sync:\tfailed")
	}
	return tw.Flush()
}

func jobErrors(s resync.Stats) uint64 {
	return s.ErrorDirs + s.ErrorFiles + s.GatherErrors + s.ModSyncErrors
}
