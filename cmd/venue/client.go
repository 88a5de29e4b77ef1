package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"venue/internal/config"
	"venue/internal/job"
	"venue/internal/remote"

	"github.com/spf13/cobra"
)

type clientFlags struct {
	url    string
	apiKey string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "", "venue URL (default $VENUE_URL)")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key (default $VENUE_API_KEY)")
}

func (f *clientFlags) client() (*remote.Client, error) {
	cfg := config.LoadClientConfig()
	if f.url != "" {
		cfg.URL = f.url
	}
	if f.apiKey != "" {
		cfg.APIKey = f.apiKey
	}
	return remote.NewClient(remote.Config{
		URL:          cfg.URL,
		APIKey:       cfg.APIKey,
		PollInitial:  cfg.PollInitial,
		PollFactor:   cfg.PollFactor,
		PollMax:      cfg.PollMax,
		FetchTimeout: cfg.FetchTimeout,
	})
}

func newInvokeCommand() *cobra.Command {
	var (
		flags  clientFlags
		input  string
		noWait bool
	)
	cmd := &cobra.Command{
		Use:   "invoke <operation>",
		Short: "Invoke an operation and wait for its job to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in any
			if input != "" {
				if err := json.Unmarshal([]byte(input), &in); err != nil {
					return fmt.Errorf("invalid --input: %w", err)
				}
			}
			c, err := flags.client()
			if err != nil {
				return err
			}

			j, err := c.Submit(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			if noWait {
				return printRecord(cmd.OutOrStdout(), j.Record())
			}

			syncErr := c.Sync(cmd.Context(), j)
			var failed *job.FailedError
			if syncErr != nil && !errors.As(syncErr, &failed) && !errors.Is(syncErr, job.ErrCancelled) {
				return syncErr
			}
			if err := printRecord(cmd.OutOrStdout(), j.Record()); err != nil {
				return err
			}
			if syncErr != nil {
				return fmt.Errorf("job %s finished %s", j.ID(), j.Status())
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&input, "input", "", "operation input as JSON")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print the new job and exit")
	return cmd
}

func newStatusCommand() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print a job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			rec, err := c.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printRecord(cmd.OutOrStdout(), rec)
		},
	}
	flags.register(cmd)
	return cmd
}

func newCancelCommand() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			rec, err := c.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printRecord(cmd.OutOrStdout(), rec)
		},
	}
	flags.register(cmd)
	return cmd
}

func printRecord(w io.Writer, rec job.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
