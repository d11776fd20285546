package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forkops/forkd"
)

type triggerOpts struct {
	*rootOpts
	candidate string
	dryRun    bool
}

func newTrigger(parent *rootOpts) *triggerOpts {
	return &triggerOpts{rootOpts: parent}
}

func (opts *triggerOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "ask the daemon to run a promotion check now",
		Example: makeExample(
			"forkctl trigger",
			"forkctl trigger --candidate v1.4.2",
			"forkctl trigger --dry-run",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVar(&opts.candidate, "candidate", "", "Promote this version instead of asking the upstream for its latest release")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Run against the disposable stack and leave the recorded baseline alone")
	return cmd
}

func (opts *triggerOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}

	queued, err := opts.API.TriggerRun(context.Background(), forkd.Trigger{
		CandidateVersion: opts.candidate,
		DryRun:           opts.dryRun,
		Cause:            "forkctl",
	})
	if err != nil {
		return err
	}
	if !queued {
		fmt.Fprintln(cmd.OutOrStdout(), "a run is already pending; your trigger was coalesced into it")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "run queued")
	return nil
}
