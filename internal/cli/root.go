// Package cli implements mirrorctl, the operator tool for the mirror
// admin API and the event queue.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	Server  string
	APIKey  string
	Format  string // "json" | "text"
	Timeout time.Duration
}

// ValidFormats defines the allowed output formats
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the mirrorctl root command
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "mirrorctl",
		Short:   "Manage buddy mirror groups and resync jobs",
		Long:    "mirrorctl talks to the admin API of a mirror server to inspect target states, manage mirror groups and drive buddy resyncs.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Server, "server", "s", "http://127.0.0.1:8008", "admin API base URL")
	cmd.PersistentFlags().StringVar(&opts.APIKey, "api-key", "", "admin API key")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(NewNodeCommand(opts))
	cmd.AddCommand(NewTargetsCommand(opts))
	cmd.AddCommand(NewGroupsCommand(opts))
	cmd.AddCommand(NewResyncCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) client() *Client {
	return NewClient(o.Server, o.APIKey, o.Timeout)
}
