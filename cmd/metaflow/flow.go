package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/celsiustx/metaflow/internal/flowfile"
	"github.com/celsiustx/metaflow/pkg/graph"
)

type flowAction func(w io.Writer, a *app, spec string, g *graph.Graph) error

var flowActions = map[string]flowAction{
	"show":        showFlow,
	"check":       checkFlow,
	"info":        infoFlow,
	"fingerprint": fingerprintFlow,
}

func flowActionNames() []string {
	names := make([]string, 0, len(flowActions))
	for name := range flowActions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newFlowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "flow <path-spec> <" + strings.Join(flowActionNames(), "|") + ">",
		Short: "Validate and describe a flow graph",
		Long: `The path spec is <file>[:<flow>]. The flow name may be omitted when the
file holds a single flow. YAML (.yaml, .yml) and HCL (.hcl) files are
supported.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, name := args[0], args[1]
			action, ok := flowActions[name]
			if !ok {
				return fmt.Errorf("unknown flow command %q; expected one of %v", name, flowActionNames())
			}

			g, err := flowfile.Load(spec, a.logger)
			if err != nil {
				if name == "check" {
					color.New(color.FgRed, color.Bold).Fprintln(cmd.ErrOrStderr(), "Validity checker found an issue:")
				}
				return err
			}
			return action(cmd.OutOrStdout(), a, spec, g)
		},
	}
}

func showFlow(w io.Writer, a *app, _ string, g *graph.Graph) error {
	if a.outputJSON {
		return infoFlow(w, a, "", g)
	}
	return g.WriteShow(w)
}

func checkFlow(w io.Writer, a *app, _ string, g *graph.Graph) error {
	if a.outputJSON {
		return writeJSON(w, map[string]any{"flow": g.Name(), "valid": true})
	}
	_, err := color.New(color.FgGreen).Fprintln(w, "The graph looks good!")
	return err
}

// fileInfo is graph.Info plus the file it came from.
type fileInfo struct {
	File string `json:"file,omitempty"`
	graph.Info
}

func infoFlow(w io.Writer, _ *app, spec string, g *graph.Graph) error {
	file, _ := flowfile.SplitPathSpec(spec)
	return writeJSON(w, fileInfo{File: file, Info: g.Info()})
}

func fingerprintFlow(w io.Writer, a *app, _ string, g *graph.Graph) error {
	if a.outputJSON {
		return writeJSON(w, map[string]string{"flow": g.Name(), "fingerprint": g.Fingerprint()})
	}
	_, err := fmt.Fprintln(w, g.Fingerprint())
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
