package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"positionengine/src/database"
	"positionengine/src/engine"

	"github.com/sirupsen/logrus"
)

// Watchdog runs the reconciliation loop, or a single sweep when Once is set.
type Watchdog struct {
	Once bool
	Out  io.Writer
}

func (t *Watchdog) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to main database")
		return err
	}

	e, err := engine.Build(ctx, database.MainDB)
	if err != nil {
		logrus.WithError(err).Error("Failed to build engine")
		return err
	}
	defer e.Close()

	if !t.Once {
		return e.Watchdog.Run(ctx)
	}

	report, err := e.Watchdog.Sweep(ctx)
	if err != nil {
		logrus.WithError(err).Error("Sweep failed")
		return err
	}

	out := t.Out
	if out == nil {
		out = os.Stdout
	}
	b, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}
