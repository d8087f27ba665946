// ghqueue-process-queue drains the job queue from the commandline.
// It shares the configuration file with the ghqueue daemon and is
// intended for operators and test setups that run without the daemon.
// The exit code reflects startup failures only, jobs ending in status
// error do not make the command fail.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/ghqueue/internal/cfg"
	"github.com/simplesurance/ghqueue/internal/dashboard"
	"github.com/simplesurance/ghqueue/internal/dispatch"
	"github.com/simplesurance/ghqueue/internal/githubclt"
	"github.com/simplesurance/ghqueue/internal/logfields"
	"github.com/simplesurance/ghqueue/internal/modules"
	"github.com/simplesurance/ghqueue/internal/store"
)

const appName = "ghqueue-process-queue"

var logger *zap.Logger

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

type arguments struct {
	Verbose       *bool
	ConfigFile    *string
	ExitWhenEmpty *bool
	OnlyOne       *bool
	MakePending   *bool
}

var args arguments

const defConfigFile = "/etc/ghqueue/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the ghqueue configuration file",
		),
		ExitWhenEmpty: pflag.Bool(
			"exit-when-empty",
			false,
			"process jobs until the queue is empty, then exit",
		),
		OnlyOne: pflag.Bool(
			"only-one",
			false,
			"process at most one job, then exit",
		),
		MakePending: pflag.Bool(
			"make-pending",
			false,
			"only move new jobs to pending without processing anything",
		),
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nProcess queued jobs without the ghqueue daemon.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if !*args.ExitWhenEmpty && !*args.OnlyOne && !*args.MakePending {
		fmt.Fprintln(os.Stderr, "ERROR: one of --exit-when-empty, --only-one or --make-pending is required")
		os.Exit(2)
	}
}

func mustInitLogger(config *cfg.Config) {
	logLevel := zapcore.InfoLevel
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.LevelKey = "loglevel"
	encCfg.TimeKey = config.LogTimeKey
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	logger = zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(encCfg),
		os.Stderr,
		logLevel),
	).Named("main")

	zap.ReplaceGlobals(logger)
}

func githubClients(config *cfg.Config) map[string]*githubclt.Client {
	clients := make(map[string]*githubclt.Client, len(config.Applications))

	for _, app := range config.Applications {
		if app.GithubAPIToken == "" {
			continue
		}

		clients[app.Name] = githubclt.New(app.GithubAPIToken)
	}

	return clients
}

func main() {
	mustParseCommandlineParams()

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration file", err)

	config, err := cfg.Load(file)
	file.Close()
	exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)

	mustInitLogger(config)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	st, err := store.New(ctx, config.DatabaseDSN)
	exitOnErr("could not connect to the database", err)
	defer st.Close()

	err = st.RunMigrations(ctx)
	exitOnErr("could not run database migrations", err)

	registry, err := modules.DefaultRegistry()
	exitOnErr("could not initialize module registry", err)

	assigner, err := dispatch.NewLaneAssigner(config.LaneRules)
	exitOnErr("could not parse lane rules", err)

	executor := dispatch.NewExecutor(dispatch.ExecutorParams{
		Store:     st,
		DashStore: st,
		Registry:  registry,
		Merger:    dashboard.NewMerger(st),
		Clients:   githubClients(config),
		Config:    config,
	})

	lanes := dispatch.DefaultLaneWorkers
	if len(config.Lanes) > 0 {
		lanes = config.Lanes
	}

	scheduler := dispatch.NewScheduler(
		st, registry, executor, assigner, config,
		dispatch.Options{
			Lanes:         lanes,
			ExitWhenEmpty: *args.ExitWhenEmpty,
			OnlyOne:       *args.OnlyOne,
			MakePending:   *args.MakePending,
		},
	)

	err = scheduler.Run(ctx)
	exitOnErr("processing the queue failed", err)

	logger.Info("queue processing finished", logfields.Event("queue_processing_finished"))
}
