package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"positionengine/cmd/keys"
	"positionengine/cmd/watchdog"
	"positionengine/src/connectors"
	"positionengine/src/credentials"
	"positionengine/src/database"
	"positionengine/src/logging"
	"positionengine/src/repository"
	"positionengine/src/security"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		_, _ = fmt.Fprintln(os.Stderr, "failed to load .env:", err)
	}
	logging.Setup(logging.GetConfig())

	app := cli.NewApp()
	app.Name = "Position Engine CMD"
	app.Usage = "The position engine command line interface"
	app.Version = Version

	app.Commands = []cli.Command{
		watchdogCMD,
		sweepCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	watchdogCMD = cli.Command{
		Name:        "watchdog",
		Usage:       "run the reconciliation watchdog",
		Action:      watchdogAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Sweep open stoploss orders and positions every WATCHDOG_LOOP_PERIOD until stopped`,
	}
	sweepCMD = cli.Command{
		Name:        "sweep",
		Usage:       "run a single reconciliation sweep",
		Action:      sweepAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run one watchdog sweep and print its report as JSON`,
	}
	keysCMD = cli.Command{
		Name:        "keys",
		Usage:       "store encrypted exchange keys",
		Action:      keysAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Interactive shell to store and check per-user exchange credentials`,
	}
)

func watchdogAction(_ *cli.Context) error {
	logrus.WithField("cmd", "watchdog").Info("Starting watchdog CMD")

	w := &watchdog.Watchdog{}
	if err := w.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func sweepAction(_ *cli.Context) error {
	logrus.WithField("cmd", "sweep").Info("Starting sweep CMD")

	w := &watchdog.Watchdog{Once: true}
	if err := w.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func keysAction(_ *cli.Context) error {
	logrus.WithField("cmd", "keys").Info("Starting keys CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}

	cipher, err := security.NewCipherFromEnv()
	if err != nil {
		logrus.WithError(err).Error("Failed to load credentials key")
		return err
	}

	catalog, err := connectors.LoadCatalog(connectors.GetConfig().ExchangeCatalogFile)
	if err != nil {
		return err
	}

	k := &keys.Keys{
		Store:    credentials.NewProvider(repository.NewUserExchangeRepository(), cipher),
		Resolver: connectors.NewRegistry(catalog),
		Config:   keys.GetConfig(),
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return k.Run(ctx, os.Stdin, os.Stdout)
}
