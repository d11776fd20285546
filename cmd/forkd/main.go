package main

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/forkops/forkd/agent"
	"github.com/forkops/forkd/build"
	"github.com/forkops/forkd/config"
	"github.com/forkops/forkd/deploy"
	transport "github.com/forkops/forkd/http"
	"github.com/forkops/forkd/report"
	"github.com/forkops/forkd/smoketest"
	"github.com/forkops/forkd/store"
	"github.com/forkops/forkd/upstream"
)

var version string

func main() {
	// Flag domain.
	fs := pflag.NewFlagSet("default", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  forkd is a fork promotion daemon; it tracks an upstream project\n")
		fmt.Fprintf(os.Stderr, "  and promotes new releases through build, deploy and smoke test.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}
	var (
		listenAddr     = fs.StringP("listen", "l", ":3030", "Listen address for forkd API clients")
		configFile     = fs.String("config", "forkd.yaml", "Path to the agent config file")
		databaseSource = fs.String("database-source", "", `Database source name, e.g. postgres://user@host/forkd; empty means state is kept in memory only`)
		versionFlag    = fs.Bool("version", false, "Print version and exit")
	)
	fs.Parse(os.Args)

	if version == "" {
		version = "unversioned"
	}
	if *versionFlag {
		fmt.Println(version)
		os.Exit(0)
	}

	// Logger domain.
	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}
	logger.Log("version", version)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}

	// State store; we must fail if we can't do this, because
	// everything else depends on it.
	var st store.Store
	{
		logger := log.With(logger, "component", "store")
		if *databaseSource == "" {
			logger.Log("kind", "memory")
			st = store.NewInMem()
		} else {
			u, err := url.Parse(*databaseSource)
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			dbStore, err := store.NewDatabaseStore(u.Scheme, *databaseSource)
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			logger.Log("kind", u.Scheme)
			st = dbStore
		}
		defer st.Close()
	}

	// Shared AWS session for all collaborators.
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		logger.Log("component", "aws", "err", err)
		os.Exit(1)
	}

	// Upstream component.
	var detector *upstream.Detector
	{
		logger := log.With(logger, "component", "upstream")
		var token string
		if cfg.Upstream.TokenFile != "" {
			buf, err := ioutil.ReadFile(cfg.Upstream.TokenFile)
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			token = strings.TrimSpace(string(buf))
		}
		detector = &upstream.Detector{
			Lister: upstream.NewGitHub(cfg.Upstream.Owner, cfg.Upstream.Repo, token, logger),
			Logger: logger,
		}
	}

	// Build component.
	var builder *build.Coordinator
	{
		builder = &build.Coordinator{
			Collaborator: build.NewCodeBuild(sess, cfg.Build.Project),
			Interval:     cfg.PollInterval.D(),
			Timeout:      cfg.Build.Timeout.D(),
			Logger:       log.With(logger, "component", "build"),
		}
	}

	// Deploy components, including the rollback path and the optional
	// disposable dry-run target.
	// dryRunDeployer stays a nil interface when no disposable stack
	// is configured, which makes the agent refuse dry-run triggers.
	var (
		deployer       *deploy.Manager
		dryRunDeployer agent.Deployer
		rollbacker     *deploy.RollbackController
	)
	{
		logger := log.With(logger, "component", "deploy")
		cf := deploy.NewCloudFormation(sess, cfg.Deploy.Stack, cfg.Deploy.ArtifactParam)
		deployer = &deploy.Manager{
			Collaborator: cf,
			Interval:     cfg.PollInterval.D(),
			Timeout:      cfg.Deploy.Timeout.D(),
			Logger:       logger,
		}
		rollbacker = &deploy.RollbackController{
			Collaborator: cf,
			Interval:     cfg.PollInterval.D(),
			Timeout:      cfg.Deploy.Timeout.D(),
			Retries:      cfg.RollbackRetries,
			Backoff:      cfg.RollbackBackoff.D(),
			Logger:       log.With(logger, "rollback", "true"),
		}
		if cfg.Deploy.DryRunStack != "" {
			dryRunDeployer = &deploy.Manager{
				Collaborator: deploy.NewCloudFormation(sess, cfg.Deploy.DryRunStack, cfg.Deploy.ArtifactParam),
				Interval:     cfg.PollInterval.D(),
				Timeout:      cfg.Deploy.Timeout.D(),
				Logger:       log.With(logger, "dryRun", "true"),
			}
		}
	}

	// Smoke test component.
	var smokeTester *smoketest.Runner
	{
		smokeTester = &smoketest.Runner{
			Collaborator: smoketest.NewStepFunctions(sess, cfg.SmokeTest.StateMachine),
			FixtureRef:   cfg.SmokeTest.FixtureRef,
			Interval:     cfg.PollInterval.D(),
			Timeout:      cfg.SmokeTest.Timeout.D(),
			Logger:       log.With(logger, "component", "smoketest"),
		}
	}

	// Notification component.
	var notifier report.Sink
	{
		logger := log.With(logger, "component", "notify")
		var sinks []report.Sink
		if cfg.Notify.SlackWebhook != "" {
			sinks = append(sinks, report.Instrument("slack", report.NewSlackSink(http.DefaultClient, cfg.Notify.SlackWebhook, cfg.Notify.SlackUsername)))
			logger.Log("sink", "slack")
		}
		if cfg.Notify.SNSTopic != "" {
			sinks = append(sinks, report.Instrument("sns", report.NewSNSSink(sess, cfg.Notify.SNSTopic)))
			logger.Log("sink", "sns")
		}
		if len(sinks) == 0 {
			logger.Log("sink", "none")
		}
		notifier = report.Tee(sinks...)
	}

	// Agent (business logic) domain.
	a := &agent.Agent{
		Store:          st,
		Detector:       detector,
		Builder:        builder,
		Deployer:       deployer,
		Rollbacker:     rollbacker,
		SmokeTester:    smokeTester,
		Notifier:       notifier,
		DryRunDeployer: dryRunDeployer,
		LockStaleAfter: cfg.LockStaleAfter.D(),
		Logger:         log.With(logger, "component", "agent"),
	}

	loop := &agent.Loop{
		Agent:    a,
		Interval: cfg.RunInterval.D(),
		Logger:   log.With(logger, "component", "loop"),
	}

	// Mechanical stuff.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	checker := checkForUpdates(logger)
	defer checker.Stop()

	shutdown := make(chan struct{})
	shutdownWg := &sync.WaitGroup{}
	shutdownWg.Add(1)
	go loop.Run(shutdown, shutdownWg)

	// Transport domain.
	go func() {
		logger := log.With(logger, "component", "http")
		logger.Log("addr", *listenAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		handler := transport.NewHandler(&transport.HTTPServer{Loop: loop, Store: st}, transport.NewRouter())
		mux.Handle("/", handler)
		errc <- http.ListenAndServe(*listenAddr, mux)
	}()

	// Go!
	logger.Log("exit", <-errc)
	close(shutdown)
	shutdownWg.Wait()
}
