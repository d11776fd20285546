package main

import (
	"context"
	"encoding/json"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type statusOpts struct {
	*rootOpts
	output string
}

func newStatus(parent *rootOpts) *statusOpts {
	return &statusOpts{rootOpts: parent}
}

func (opts *statusOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "display the recorded baseline and any runs in flight",
		Example: makeExample(
			"forkctl status --output=json",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "yaml", `The format to output ("yaml" or "json")`)
	return cmd
}

func (opts *statusOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}

	marshal, err := outputMarshaller(opts.output)
	if err != nil {
		return err
	}

	status, err := opts.API.Status(context.Background())
	if err != nil {
		return err
	}

	bytes, err := marshal(status)
	if err != nil {
		return errors.Wrap(err, "marshalling to output format "+opts.output)
	}
	cmd.OutOrStdout().Write(bytes)
	return nil
}

func outputMarshaller(format string) (func(interface{}) ([]byte, error), error) {
	switch format {
	case "yaml":
		return yaml.Marshal, nil
	case "json":
		return func(v interface{}) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}, nil
	}
	return nil, errors.New("unknown output format " + format)
}
