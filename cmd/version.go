package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func init() {
	kvtxCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of kvtx",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		})
}
