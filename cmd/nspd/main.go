package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/Jarek-Egger/godecnet/pkg/nsp"
	nspconfig "github.com/Jarek-Egger/godecnet/pkg/nsp/config"
	"github.com/Jarek-Egger/godecnet/pkg/routing/virtual"
)

var DEFAULT_BROKER = "localhost:18000"
var DEFAULT_DEVICE = "nspd0"

func main() {
	log.SetLevel(log.InfoLevel)

	broker := flag.String("broker", DEFAULT_BROKER, "virtual routing broker address, host:port")
	device := flag.String("d", DEFAULT_DEVICE, "device name attached to martian diagnostics")
	cfgPath := flag.String("c", "", "ini configuration file path")
	flag.Parse()

	cfg := nsp.DefaultConfig()
	var listeners []nspconfig.ListenerSpec
	if *cfgPath != "" {
		file, err := nspconfig.Load(*cfgPath)
		if err != nil {
			fmt.Printf("error loading config %v: %v\n", *cfgPath, err)
			os.Exit(1)
		}
		cfg = file.Engine
		listeners = file.Listeners()
	}

	bus := virtual.NewBus(*broker, log.StandardLogger())
	bus.SetIdentity(*device, 1, 0)
	if err := bus.Connect(); err != nil {
		fmt.Printf("could not connect to broker %v: %v\n", *broker, err)
		os.Exit(1)
	}
	defer bus.Disconnect()

	engine := nsp.NewEngine(cfg, nsp.WithRouter(bus))
	bus.Subscribe(engine.Receive)

	for _, spec := range listeners {
		engine.Listeners().Listen(nsp.NewListener(spec.Name, spec.Number, spec.AcceptCap))
	}

	log.WithField("broker", *broker).Info("nspd: engine running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
