// venue runs the job venue server and talks to running venues.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"venue/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "venue",
		Short:         "Run operations as observable jobs",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(logLevel)
			if err != nil {
				return err
			}
			// Client commands print records on stdout.
			var out io.Writer = cmd.ErrOrStderr()
			if cmd.Name() == "serve" {
				out = os.Stdout
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", config.GetEnv("LOG_LEVEL", "info"), "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCommand(),
		newInvokeCommand(),
		newStatusCommand(),
		newCancelCommand(),
	)
	return root
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
