// nodesim runs the node in a loop of in-process boots against the local
// bus, printing every bus message and taking simulated inputs from stdin:
//
//	power on|off
//	button on|off
//	climate <temperature> <humidity>
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
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
	boots := flag.Int("boots", 0, "stop after this many boots (0 = run until interrupted)")
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
		log.Fatal("open store", zap.Error(err))
	}
	defer func() { _ = closeStore() }()

	b := bus.NewBus(64)
	s.Publish(b.NewConnection("config"))
	go bridge.Start(ctx, b.NewConnection("bridge"), log)

	sim := node.NewSim(s)
	go sim.Drive(ctx, b.NewConnection("sim"), log)
	go monitor(ctx, b.NewConnection("monitor"))
	go readInputs(ctx, b.NewConnection("stdin"), log)

	for i := 1; *boots == 0 || i <= *boots; i++ {
		bctx, cancel := context.WithCancel(ctx)
		m := node.NewHostMachine(bctx, be, sim.Pins, log)
		m.RestartFunc = func(string) { cancel() }

		n := node.New(s, be, sim.Hardware(s.Sensor.Bus), m, b, node.NewPublisherFactory(s, b, log), log)
		log.Info("sim boot", zap.Int("boot", i), zap.String("boot_id", n.BootID()))
		if err := n.Run(bctx); err != nil && ctx.Err() == nil && bctx.Err() == nil {
			log.Error("boot ended with error", zap.Error(err))
		}
		cancel()
		if ctx.Err() != nil {
			return
		}
	}
}

// monitor prints every message except the simulator's own inputs.
func monitor(ctx context.Context, conn *bus.Connection) {
	sub := conn.Subscribe(bus.T("#"))
	defer conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			fmt.Printf("%-40s %s\n", m.Topic.String(), render(m.Payload))
		}
	}
}

func render(p any) string {
	if b, ok := p.([]byte); ok {
		return string(b)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("%v", p)
	}
	return string(b)
}

func readInputs(ctx context.Context, conn *bus.Connection, log *zap.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		topic, payload, err := parseInput(sc.Text())
		if err != nil {
			log.Warn("input", zap.Error(err))
			continue
		}
		if topic != nil {
			conn.Publish(conn.NewMessage(topic, payload, false))
		}
	}
}

func parseInput(line string) (bus.Topic, any, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return nil, nil, nil
	}
	switch f[0] {
	case "power", "button":
		if len(f) != 2 || (f[1] != "on" && f[1] != "off") {
			return nil, nil, fmt.Errorf("usage: %s on|off", f[0])
		}
		return bus.T("sim", f[0]), f[1] == "on", nil
	case "climate":
		if len(f) != 3 {
			return nil, nil, fmt.Errorf("usage: climate <temperature> <humidity>")
		}
		t, err := strconv.ParseFloat(f[1], 64)
		if err != nil {
			return nil, nil, err
		}
		h, err := strconv.ParseFloat(f[2], 64)
		if err != nil {
			return nil, nil, err
		}
		return bus.T("sim", "climate"), map[string]any{"temperature": t, "humidity": h}, nil
	}
	return nil, nil, fmt.Errorf("unknown command %q", f[0])
}
