package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type historyOpts struct {
	*rootOpts
	limit int
}

func newHistory(parent *rootOpts) *historyOpts {
	return &historyOpts{rootOpts: parent}
}

func (opts *historyOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "show recent runs, newest first",
		Example: makeExample(
			"forkctl history --limit 50",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func (opts *historyOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}

	runs, err := opts.API.ListRuns(context.Background(), opts.limit)
	if err != nil {
		return err
	}

	w := newTabwriter()
	fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tVERSION\tNOTE")
	for _, run := range runs {
		version := ""
		if run.Candidate != nil {
			version = run.Candidate.Version
		}
		note := run.FailureReason
		if run.DryRun {
			if note != "" {
				note = "dry run; " + note
			} else {
				note = "dry run"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			run.ID,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.Status,
			version,
			note,
		)
	}
	w.Flush()
	return nil
}
