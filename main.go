package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"positionengine/src/database"
	"positionengine/src/engine"
	"positionengine/src/logging"
	"positionengine/src/server"

	"github.com/joho/godotenv"
	logger "github.com/sirupsen/logrus"
)

var APP_NAME = os.Getenv("APP_NAME")

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "failed to load .env:", err)
	}
	logging.Setup(logging.GetConfig())
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	e, err := engine.Build(ctx, database.MainDB)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build engine")
	}
	defer e.Close()

	// the watchdog runs next to the API so /watchdog/sweep reaches a live loop
	go func() {
		if err := e.Watchdog.Run(ctx); err != nil {
			logger.WithError(err).Error("watchdog stopped")
		}
	}()

	server.StartServer(ctx, server.GetConfig().Port, server.NewRouter(server.Deps{
		Controller: e.Controller,
		Watchdog:   e.Watchdog,
		Orders:     e.Orders,
		Positions:  e.Positions,
	}))
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
		//nolint
		time.Sleep(time.Second * 5)
	}
}
