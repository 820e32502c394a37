package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ThinkParQ/beegfs-sub011/internal/models"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
)

// NewNodeCommand creates the node command
func NewNodeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "node",
		Short:         "Show the status of the server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			var st models.NodeStatusResponse
			if err := opts.client().Do(ctx, "GET", "/admin/node", nil, &st); err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), st)
			}

			out := cmd.OutOrStdout()
			targets := make([]string, 0, len(st.Targets))
			for _, id := range st.Targets {
				targets = append(targets, strconv.Itoa(int(id)))
			}
			fmt.Fprintf(out, "Node:     %d\n", st.NodeID)
			fmt.Fprintf(out, "Address:  %s\n", st.Address)
			fmt.Fprintf(out, "Targets:  %s\n", strings.Join(targets, ", "))
			fmt.Fprintf(out, "Paused:   %t\n", st.Paused)
			if st.LastSync != nil {
				fmt.Fprintf(out, "Synced:   %s\n", ago(*st.LastSync))
			}
			if st.LastSyncError != "" {
				fmt.Fprintf(out, "Sync err: %s\n", st.LastSyncError)
			}
			if len(st.Connections) > 0 {
				addrs := make([]string, 0, len(st.Connections))
				for addr := range st.Connections {
					addrs = append(addrs, addr)
				}
				sort.Strings(addrs)
				fmt.Fprintln(out, "Peers:")
				for _, addr := range addrs {
					fmt.Fprintf(out, "  %s  %s\n", addr, st.Connections[addr])
				}
			}
			return nil
		},
	}
}

// NewTargetsCommand creates the targets command
func NewTargetsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "targets",
		Short:         "List target states as seen by the server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			var list models.TargetStateListResponse
			if err := opts.client().Do(ctx, "GET", "/admin/targets", nil, &list); err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), list)
			}

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "TARGET\tNODE\tREACHABILITY\tCONSISTENCY\tLOCAL")
			for _, t := range list.Targets {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%t\n", t.TargetID, t.NodeID, t.Reachability, t.Consistency, t.Local)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(newSetStateCommand(opts))
	return cmd
}

func newSetStateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-state <target> <good|needs-resync|bad>",
		Short: "Override the consistency state of a target",
		Long: `Override the consistency state of a target in the coordinator.

Setting a secondary to needs-resync makes its primary start a resync on
the next check.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := nodes.ParseConsistency(args[1]); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			var resp map[string]interface{}
			path := fmt.Sprintf("/admin/targets/%d/consistency", id)
			if err := opts.client().Do(ctx, "PUT", path, models.SetConsistencyRequest{State: args[1]}, &resp); err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Target %d is now %s\n", id, args[1])
			return nil
		},
	}
}

func parseID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid id %q: must be between 1 and 65535", s)
	}
	return uint16(v), nil
}
