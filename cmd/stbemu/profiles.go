package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/HerbHall/stbemu/internal/profile"
	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage emulated set-top-box profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			active := a.persistedActive(cmd.Context())
			var infos []profile.Info
			for _, p := range a.profiles.Profiles() {
				infos = append(infos, p.Info(p == active))
			}
			return printProfiles(cmd.OutOrStdout(), infos)
		})
	},
}

var (
	createSubmodel  string
	createOverwrite bool
)

var profilesCreateCmd = &cobra.Command{
	Use:   "create <class> [name]",
	Short: "Create a profile of an STB API class",
	Long: `Create a profile for one of the classes registered by the STB API
plugins (see "stbemu profiles classes"). The name is made unique with a " #n"
suffix unless --overwrite is given.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		return withApp(cmd.Context(), func(a *app) error {
			p, err := a.profiles.Create(cmd.Context(), args[0], createSubmodel, name, createOverwrite)
			if err != nil {
				return err
			}
			return printProfiles(cmd.OutOrStdout(), []profile.Info{p.Info(false)})
		})
	},
}

var profilesRemoveCmd = &cobra.Command{
	Use:   "remove <id|name>",
	Short: "Remove a profile that is not active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			p, err := findProfile(a, args[0])
			if err != nil {
				return err
			}
			if p == a.persistedActive(cmd.Context()) {
				return fmt.Errorf("%w: %s", plugin.ErrProfileActive, p.Name)
			}
			if err := a.switcher.Delete(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s (%s)\n", p.Name, p.ID)
			return nil
		})
	},
}

var profilesActivateCmd = &cobra.Command{
	Use:   "activate <id|name>",
	Short: "Make a profile the one restored by \"stbemu serve\"",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			p, err := findProfile(a, args[0])
			if err != nil {
				return err
			}
			if err := a.switcher.SetActive(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "active profile: %s (%s)\n", p.Name, p.ID)
			return nil
		})
	},
}

var profilesClassesCmd = &cobra.Command{
	Use:   "classes",
	Short: "List profile classes and their submodels",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			out := cmd.OutOrStdout()
			if jsonOutput {
				return json.NewEncoder(out).Encode(a.profiles.Classes())
			}
			for _, c := range a.profiles.Classes() {
				fmt.Fprintf(out, "%s:", c.ID)
				for _, s := range c.Submodels {
					fmt.Fprintf(out, " %s", s.ID)
				}
				fmt.Fprintln(out)
			}
			return nil
		})
	},
}

func findProfile(a *app, ref string) (*profile.Profile, error) {
	if p, ok := a.profiles.FindByID(ref); ok {
		return p, nil
	}
	if p, ok := a.profiles.FindByName(ref); ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", plugin.ErrProfileNotFound, ref)
}

func printProfiles(out io.Writer, infos []profile.Info) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tCLASS\tSUBMODEL\tACTIVE")
	for _, p := range infos {
		active := ""
		if p.Active {
			active = stateOK("*")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.ClassID, p.Submodel, active)
	}
	return w.Flush()
}

func init() {
	profilesCreateCmd.Flags().StringVar(&createSubmodel, "submodel", "", "submodel id or name (default: the class's first)")
	profilesCreateCmd.Flags().BoolVar(&createOverwrite, "overwrite", false, "keep the name as given even if taken")
	profilesCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")

	profilesCmd.AddCommand(profilesListCmd, profilesCreateCmd, profilesRemoveCmd, profilesActivateCmd, profilesClassesCmd)
}
