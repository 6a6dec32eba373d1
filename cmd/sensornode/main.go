// sensornode runs one boot of the node: it selects the operating mode and
// runs it until the node restarts (re-exec) or the process is signalled.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sensornode/bus"
	"sensornode/services/bridge"
	"sensornode/services/config"
	"sensornode/services/node"
	"sensornode/x/logx"

	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "", "settings file (yaml)")
	board := flag.String("board", config.DefaultBoard, "board defaults to load")
	flag.Parse()

	s, err := config.Load(*board, *cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logx.New(s.Log.Level, s.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, closeStore, err := node.OpenBackend(ctx, s)
	if err != nil {
		log.Fatal("open store", zap.String("backend", s.Store.Backend), zap.Error(err))
	}
	defer func() { _ = closeStore() }()

	b := bus.NewBus(32)
	s.Publish(b.NewConnection("config"))
	go bridge.Start(ctx, b.NewConnection("bridge"), log)

	sim := node.NewSim(s)
	go sim.Drive(ctx, b.NewConnection("sim"), log)

	m := node.NewHostMachine(ctx, be, sim.Pins, log)
	n := node.New(s, be, sim.Hardware(s.Sensor.Bus), m, b, node.NewPublisherFactory(s, b, log), log)
	if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("node stopped", zap.Error(err))
	}
}
