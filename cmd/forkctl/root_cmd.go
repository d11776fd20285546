package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	transport "github.com/forkops/forkd/http"
	"github.com/forkops/forkd/http/client"
)

const (
	// EnvVariableURL overrides the daemon URL when the flag is unset.
	EnvVariableURL = "FORKD_URL"
)

type rootOpts struct {
	URL string
	API *client.Client
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
forkctl talks to your forkd daemon.

Workflow:
  forkctl status                      # What is deployed, and what is running?
  forkctl trigger                     # Check upstream for a new release now.
  forkctl trigger --dry-run           # Rehearse a promotion on the disposable stack.
  forkctl history                     # How did previous runs go?
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "forkctl",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.URL, "url", "u", "http://localhost:3030",
		fmt.Sprintf("Base URL of the forkd API server; you can also set the environment variable %s", EnvVariableURL))

	cmd.AddCommand(
		newTrigger(opts).Command(),
		newStatus(opts).Command(),
		newHistory(opts).Command(),
		newShow(opts).Command(),
		newVersionCommand(),
	)

	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	url := os.Getenv(EnvVariableURL)
	if cmd.Flags().Changed("url") || url == "" {
		url = opts.URL
	}
	opts.API = client.New(http.DefaultClient, transport.NewRouter(), url)
	return nil
}
