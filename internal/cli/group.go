package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ThinkParQ/beegfs-sub011/internal/models"
)

// NewGroupsCommand creates the groups command and its subcommands
func NewGroupsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "groups",
		Short:         "List and manage mirror groups",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			var list models.GroupListResponse
			if err := opts.client().Do(ctx, "GET", "/admin/groups", nil, &list); err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			return printGroups(cmd.OutOrStdout(), list.Groups...)
		},
	}

	cmd.AddCommand(newGroupCreateCommand(opts))
	cmd.AddCommand(newGroupActionCommand(opts, "delete", "Delete a mirror group", "DELETE", ""))
	cmd.AddCommand(newGroupActionCommand(opts, "swap", "Exchange primary and secondary of a mirror group", "POST", "/swap"))
	return cmd
}

func printGroups(w io.Writer, groups ...models.GroupResponse) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "GROUP\tPRIMARY\tSECONDARY\tRESYNCING")
	for _, g := range groups {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%t\n", g.ID, g.Primary, g.Secondary, g.Resyncing)
	}
	return tw.Flush()
}

func newGroupCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "create <group> <primary> <secondary>",
		Short:         "Define a mirror group",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uint16, len(args))
			for i, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids[i] = id
			}
			if ids[1] == ids[2] {
				return fmt.Errorf("primary and secondary must differ")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			req := models.CreateGroupRequest{ID: ids[0], Primary: ids[1], Secondary: ids[2]}
			var g models.GroupResponse
			if err := opts.client().Do(ctx, "POST", "/admin/groups", req, &g); err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), g)
			}
			return printGroups(cmd.OutOrStdout(), g)
		},
	}
}

func newGroupActionCommand(opts *RootOptions, use, short, method, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:           use + " <group>",
		Short:         short,
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

			var g models.GroupResponse
			path := fmt.Sprintf("/admin/groups/%d%s", id, suffix)
			if err := opts.client().Do(ctx, method, path, nil, &g); err != nil {
				return err
			}
			if g.ID == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Group %d deleted\n", id)
				return nil
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), g)
			}
			return printGroups(cmd.OutOrStdout(), g)
		},
	}
}
