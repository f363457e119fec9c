package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gofhir/snapshot/pkg/loader"
)

const (
	keyUnresolved = "unresolved"
	keyPackages   = "packages"
)

func listCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded definitions or cached packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			if a.v.GetBool(keyPackages) {
				l := loader.NewLoader(a.v.GetString(keyPackagePath))
				refs, err := l.ListPackages()
				if err != nil {
					return fmt.Errorf("failed to list %s: %w", l.BasePath(), err)
				}
				for _, ref := range refs {
					fmt.Fprintln(out, ref)
				}
				return nil
			}

			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			reg := eng.Registry()
			urls := reg.URLs()
			if a.v.GetBool(keyUnresolved) {
				urls = reg.Unresolved()
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, url := range urls {
				sd, err := reg.Get(url)
				if err != nil {
					return err
				}
				state := "differential"
				if sd.Resolved() {
					state = "snapshot"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", url, sd.Type, state)
			}
			return tw.Flush()
		},
	}

	f := cmd.Flags()
	f.Bool(keyUnresolved, false, "Only list definitions that ship no snapshot")
	f.Bool(keyPackages, false, "List the packages in the package cache instead")
	return cmd
}
