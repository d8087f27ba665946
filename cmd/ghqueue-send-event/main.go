// ghqueue-send-event records a synthetic event in the job queue, e.g.
// a daily cron tick or a dashboard refresh for a single repository.
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
	"github.com/simplesurance/ghqueue/internal/ingest"
	"github.com/simplesurance/ghqueue/internal/store"
)

const appName = "ghqueue-send-event"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

type arguments struct {
	ConfigFile  *string
	Application *string
	Event       *string
	Owner       *string
	Repository  *string
}

var args arguments

const defConfigFile = "/etc/ghqueue/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the ghqueue configuration file",
		),
		Application: pflag.String(
			"application",
			"",
			"name of the application the event belongs to",
		),
		Event: pflag.String(
			"event",
			"",
			"name of the event to record, e.g. daily or dashboard",
		),
		Owner: pflag.String(
			"owner",
			"",
			"owner of the repository the event targets",
		),
		Repository: pflag.String(
			"repository",
			"",
			"name of the repository the event targets",
		),
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nRecord a synthetic event in the job queue.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *args.Application == "" || *args.Event == "" {
		fmt.Fprintln(os.Stderr, "ERROR: --application and --event are required")
		os.Exit(2)
	}
}

func main() {
	mustParseCommandlineParams()

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration file", err)

	config, err := cfg.Load(file)
	file.Close()
	exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.LevelKey = "loglevel"
	encCfg.TimeKey = config.LogTimeKey
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(encCfg),
		os.Stderr,
		zapcore.InfoLevel),
	).Named("main")

	zap.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	st, err := store.New(ctx, config.DatabaseDSN)
	exitOnErr("could not connect to the database", err)
	defer st.Close()

	err = st.RunMigrations(ctx)
	exitOnErr("could not run database migrations", err)

	ingestor := ingest.New(st, config)

	job, err := ingestor.IngestSynthetic(ctx, *args.Application, *args.Event, *args.Owner, *args.Repository)
	exitOnErr("recording the event failed", err)

	fmt.Printf("recorded event %q as job %d\n", *args.Event, job.ID)
}
