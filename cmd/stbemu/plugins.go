package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/HerbHall/stbemu/internal/registry"
	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	pluginsRole string
	jsonOutput  bool
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List discovered plugins and their lifecycle state",
	Long: `Discover and initialize every plugin, then print each one with its roles
and final state. Descriptors that could not be registered are listed with the
reason.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			entries := a.manager.Registry().All(pluginsRole)
			infos := make([]registry.Info, 0, len(entries))
			for _, e := range entries {
				infos = append(infos, e.Info())
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			printPlugins(out, infos)
			for _, s := range a.report.Skipped {
				fmt.Fprintf(out, "skipped %s: %v\n", s.Path, s.Err)
			}
			return nil
		})
	},
}

var (
	stateOK   = color.New(color.FgGreen).SprintFunc()
	stateWait = color.New(color.FgYellow).SprintFunc()
	stateBad  = color.New(color.FgRed).SprintFunc()
)

func colorState(s plugin.State) string {
	switch s {
	case plugin.StateInitialized:
		return stateOK(s)
	case plugin.StateDisabled, plugin.StateUnloaded:
		return stateBad(s)
	default:
		return stateWait(s)
	}
}

func printPlugins(out io.Writer, infos []registry.Info) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tVERSION\tROLES\tFLAGS\tSTATE")
	for _, p := range infos {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Version, strings.Join(p.Roles, ","), p.Flags, colorState(p.State))
	}
	_ = w.Flush()
}

func init() {
	pluginsCmd.Flags().StringVar(&pluginsRole, "role", "", "only list plugins declaring this role")
	pluginsCmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")
}
