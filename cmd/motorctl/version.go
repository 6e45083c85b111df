package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/motorbox/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of motorctl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "motorctl %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		},
	}
}
