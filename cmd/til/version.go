package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/tilvault"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of til",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("til version %s\n", strings.TrimSpace(tilvault.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
