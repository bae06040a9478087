package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chem-gl/cadma-flow-api/internal/model"
	"github.com/chem-gl/cadma-flow-api/internal/store"
)

// TimelineOptions holds flags for the timeline command.
type TimelineOptions struct {
	*RootOptions
	Database    string
	ExecutionID string
	EventType   string // optional filter
}

// TimelineEvent is one rendered event.
type TimelineEvent struct {
	Seq       int64         `json:"seq"`
	At        string        `json:"at"`
	EventType string        `json:"event_type"`
	Details   model.JSONMap `json:"details,omitempty"`
}

// TimelineResult holds the complete timeline output.
type TimelineResult struct {
	ExecutionID string          `json:"execution_id"`
	Status      string          `json:"status"`
	Events      []TimelineEvent `json:"events"`
}

// NewTimelineCommand creates the timeline command.
func NewTimelineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TimelineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show the event timeline of an execution",
		Long: `Show the ordered event log of a workflow execution.

Events cover step completions and failures, selection changes, forks,
rewinds, and automatic variant branches.

Examples:
  cadmaflow timeline --db ./cadmaflow.db --execution exec-root-abc
  cadmaflow timeline --db ./cadmaflow.db --execution exec-root-abc --event AUTO_FORK
  cadmaflow timeline --db ./cadmaflow.db --execution exec-root-abc --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTimeline(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ExecutionID, "execution", "", "execution id (required)")
	_ = cmd.MarkFlagRequired("execution")
	cmd.Flags().StringVar(&opts.EventType, "event", "", "filter to one event type")

	return cmd
}

func runTimeline(opts *TimelineOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	exec, err := st.GetExecution(ctx, opts.ExecutionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to get execution", err)
	}
	events, err := st.ListEvents(ctx, opts.ExecutionID, opts.EventType)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list events", err)
	}

	result := TimelineResult{
		ExecutionID: exec.ExecutionID,
		Status:      string(exec.Status),
		Events:      make([]TimelineEvent, 0, len(events)),
	}
	for _, ev := range events {
		result.Events = append(result.Events, TimelineEvent{
			Seq:       ev.ID,
			At:        ev.CreatedAt.UTC().Format(time.RFC3339),
			EventType: ev.EventType,
			Details:   ev.Details,
		})
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTimeline(&result))
	return nil
}

// renderTimeline produces the human-readable timeline listing.
func renderTimeline(r *TimelineResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Execution %s [%s]\n", r.ExecutionID, r.Status)
	if len(r.Events) == 0 {
		b.WriteString("No events found.\n")
		return b.String()
	}
	for i, ev := range r.Events {
		line := fmt.Sprintf("%3d. %s  %-22s", i+1, ev.At, ev.EventType)
		if detail := renderDetails(ev.Details); detail != "" {
			line += "  " + detail
		}
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n%d event(s)\n", len(r.Events))
	return b.String()
}

func renderDetails(details model.JSONMap) string {
	if len(details) == 0 {
		return ""
	}
	data, err := model.MarshalDeterministic(details)
	if err != nil {
		return fmt.Sprintf("<unrenderable: %v>", err)
	}
	return string(data)
}
