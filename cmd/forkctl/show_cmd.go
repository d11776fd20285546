package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type showOpts struct {
	*rootOpts
	output string
}

func newShow(parent *rootOpts) *showOpts {
	return &showOpts{rootOpts: parent}
}

func (opts *showOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "display the full record of one run",
		Example: makeExample(
			"forkctl show 0123456789abcdef0123456789abcdef",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "yaml", `The format to output ("yaml" or "json")`)
	return cmd
}

func (opts *showOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return newUsageError("expected a single run ID argument")
	}

	marshal, err := outputMarshaller(opts.output)
	if err != nil {
		return err
	}

	run, err := opts.API.GetRun(context.Background(), args[0])
	if err != nil {
		return err
	}

	bytes, err := marshal(run)
	if err != nil {
		return errors.Wrap(err, "marshalling to output format "+opts.output)
	}
	cmd.OutOrStdout().Write(bytes)
	return nil
}
