package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/trail"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of trail",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trail version %s\n", strings.TrimSpace(trail.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
