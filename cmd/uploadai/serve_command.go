package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"uploadai/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var testNotify bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local control server",
		Long: "Serves the single-file session over HTTP and WebSocket until interrupted.\n" +
			"Only one server may run per state directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:   ctx.logLevel(),
				Version:    version,
				TestNotify: testNotify,
				Ready: func(addr string) {
					fmt.Fprintf(out, "uploadai listening on http://%s\n", addr)
				},
			})
		},
	}
	cmd.Flags().BoolVar(&testNotify, "test-notify", false, "Send a test notification once listening")
	return cmd
}
