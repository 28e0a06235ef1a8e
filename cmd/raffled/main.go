package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fairdraw/raffled/internal/config"
	"github.com/fairdraw/raffled/internal/interface/rest"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

//nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "raffled",
		Usage:   "verifiably fair raffle daemon",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Commands: cli.Commands{
			startCmd,
			statusCmd,
			enterCmd,
			upkeepCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var startCmd = &cli.Command{
	Name:   "start",
	Usage:  "Run the raffle daemon",
	Action: startAction,
}

func startAction(_ *cli.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.SetLevel(log.Level(cfg.LogLevel))
	log.Debugf("config: %s", cfg)

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	appSvc, err := cfg.AppService()
	if err != nil {
		log.Fatal(err)
	}

	svc, err := rest.NewService(rest.Config{Port: cfg.Port}, appSvc)
	if err != nil {
		log.Fatal(err)
	}

	log.RegisterExitHandler(svc.Stop)

	log.Info("starting service...")
	if err := svc.Start(); err != nil {
		log.Fatal(err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, os.Interrupt)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)
	return nil
}
