package cmd

import (
	"github.com/spf13/cobra"

	"github.com/yegram/yegram/version"
)

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "prints Yegram version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.YegramVersion())
		},
	}
)
