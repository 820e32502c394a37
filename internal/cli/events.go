package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ThinkParQ/beegfs-sub011/internal/config"
	"github.com/ThinkParQ/beegfs-sub011/internal/queue"
)

// EventsOptions holds flags for the events command
type EventsOptions struct {
	*RootOptions
	ConfigPath string
	QueueType  string
	QueueURL   string
	Pattern    string
}

// NewEventsCommand creates the events command
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow resync and target state events",
		Long: `Subscribe to the event queue the servers publish to and print every
resync and consistency-state event until interrupted.

The queue settings are read from the server configuration file and can
be overridden with flags.

Examples:
  mirrorctl events --config /etc/beegfs/mirror.yaml
  mirrorctl events --queue-type nats --queue-url nats://localhost:4222 --pattern 'beegfs.mirror.resync.>'`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "server configuration file")
	cmd.Flags().StringVar(&opts.QueueType, "queue-type", "", "queue type override (nats|redis|kafka)")
	cmd.Flags().StringVar(&opts.QueueURL, "queue-url", "", "queue URL override")
	cmd.Flags().StringVar(&opts.Pattern, "pattern", "", "subject pattern (default: <subject>.>)")
	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	// only the queue section matters here; without a file the defaults apply
	cfg := config.DefaultConfig()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	qcfg := cfg.Queue
	if opts.QueueType != "" {
		qcfg.Type = opts.QueueType
	}
	if opts.QueueURL != "" {
		qcfg.URL = opts.QueueURL
	}
	pattern := opts.Pattern
	if pattern == "" {
		pattern = qcfg.Subject + ".>"
	}

	sub, err := queue.NewSubscriber(qcfg)
	if err != nil {
		return fmt.Errorf("failed to connect to queue: %w", err)
	}
	defer func() { _ = sub.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := &eventPrinter{w: cmd.OutOrStdout(), json: opts.Format == "json"}
	if err := sub.Subscribe(pattern, printer.handle); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}
	defer func() { _ = sub.Unsubscribe(pattern) }()

	fmt.Fprintf(cmd.ErrOrStderr(), "Following %s on %s\n", pattern, qcfg.Type)
	<-ctx.Done()
	return nil
}

// eventPrinter writes one line per event; handlers may run concurrently
type eventPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

// eventSummary holds the fields shared by resync and state events
type eventSummary struct {
	Type     string    `json:"type"`
	GroupID  uint16    `json:"group_id"`
	JobID    string    `json:"job_id"`
	State    string    `json:"state"`
	TargetID uint16    `json:"target_id"`
	OldState string    `json:"old_state"`
	NewState string    `json:"new_state"`
	Time     time.Time `json:"time"`
}

func (p *eventPrinter) handle(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		_, err := fmt.Fprintf(p.w, "%s\n", data)
		return err
	}

	var ev eventSummary
	if err := json.Unmarshal(data, &ev); err != nil {
		_, err = fmt.Fprintf(p.w, "%s %s\n", subject, data)
		return err
	}
	ts := ev.Time.Format(time.RFC3339)
	var err error
	if ev.TargetID != 0 {
		_, err = fmt.Fprintf(p.w, "%s target %d: %s -> %s\n", ts, ev.TargetID, ev.OldState, ev.NewState)
	} else {
		_, err = fmt.Fprintf(p.w, "%s group %d %s job %s: %s\n", ts, ev.GroupID, ev.Type, ev.JobID, ev.State)
	}
	return err
}
