package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tanbro/sipua/pkg/sip/config"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sipua %s %s/%s %s\n", config.Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}
