package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/celsiustx/metaflow/internal/persistence"
	"github.com/celsiustx/metaflow/pkg/api"
)

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs kept in the configured store",
	}
	cmd.AddCommand(newRunsListCmd(a), newRunsEventsCmd(a))
	return cmd
}

func newRunsListCmd(a *app) *cobra.Command {
	var filter persistence.RunFilter
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, closer, err := a.cfg.Store.Open()
			if err != nil {
				return err
			}
			defer closer.Close()

			filter.Status = api.Status(strings.ToUpper(status))
			runs, err := p.Runs.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if a.outputJSON {
				out := make([]runView, len(runs))
				for i, r := range runs {
					out[i] = viewRun(r)
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}

			t := newTable("ID", "FLOW", "STATUS", "TASKS", "STARTED")
			for _, r := range runs {
				t.addRow(r.ID, r.Flow, string(r.Status), fmt.Sprint(len(r.Tasks)), r.StartedAt.Format(time.RFC3339))
			}
			return t.render(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&filter.Flow, "flow", "", "only runs of this flow")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status")
	return cmd
}

func newRunsEventsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "events <run-id>",
		Short: "Print the recorded history of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, closer, err := a.cfg.Store.Open()
			if err != nil {
				return err
			}
			defer closer.Close()

			events, err := p.Events.ListEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.outputJSON {
				return writeJSON(cmd.OutOrStdout(), events)
			}

			t := newTable("AT", "TYPE", "TASK", "DETAIL")
			for _, ev := range events {
				task := ""
				if ev.Step != "" {
					task = ev.Step + "/" + ev.TaskID
				}
				t.addRow(ev.At.Format(time.RFC3339Nano), string(ev.Type), task, ev.Detail)
			}
			return t.render(cmd.OutOrStdout())
		},
	}
}

type runView struct {
	ID         string     `json:"id"`
	Flow       string     `json:"flow"`
	Status     api.Status `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at,omitzero"`
	Tasks      int        `json:"tasks"`
}

func viewRun(r *api.Run) runView {
	v := runView{
		ID:         r.ID,
		Flow:       r.Flow,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Tasks:      len(r.Tasks),
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

// table is a minimal column-aligned text table.
type table struct {
	headers []string
	rows    [][]string
	widths  []int
}

func newTable(headers ...string) *table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &table{headers: headers, widths: widths}
}

func (t *table) addRow(row ...string) {
	for i, cell := range row {
		if i < len(t.widths) && len(cell) > t.widths[i] {
			t.widths[i] = len(cell)
		}
	}
	t.rows = append(t.rows, row)
}

func (t *table) render(w io.Writer) error {
	header := color.New(color.FgCyan, color.Bold)
	for i, h := range t.headers {
		header.Fprintf(w, "%-*s  ", t.widths[i], h)
	}
	fmt.Fprintln(w)

	for i := range t.headers {
		fmt.Fprint(w, strings.Repeat("-", t.widths[i])+"  ")
	}
	fmt.Fprintln(w)

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(t.widths) {
				fmt.Fprintf(w, "%-*s  ", t.widths[i], cell)
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
