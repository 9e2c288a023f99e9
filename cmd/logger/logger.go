package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/fako1024/btbodyscale/pkg/api"
	"github.com/fako1024/btbodyscale/pkg/cult"
	"github.com/fako1024/btbodyscale/pkg/prefs"
	"github.com/fako1024/btbodyscale/pkg/scale"
	"github.com/sirupsen/logrus"
)

type config struct {
	name     string
	addr     string
	endpoint string
}

var log = logrus.New()

func main() {

	// Parse command line options
	var cfg config

	flag.StringVar(&cfg.name, "name", "Cult Smart Scale Pro", "name of remote peripheral")
	flag.StringVar(&cfg.addr, "addr", "", "address of remote peripheral (MAC on Linux, UUID on OS X)")
	flag.StringVar(&cfg.endpoint, "api", ":8090", "endpoint to serve the REST API on")
	flag.Parse()

	store, err := prefs.New(prefs.DefaultPath())
	if err != nil {
		log.Fatalf("Failed to open preference store: %s", err)
	}

	s, err := cult.New(
		cult.WithDeviceName(cfg.name),
		cult.WithDeviceID(cfg.addr),
		cult.WithPreferences(store),
	)
	if err != nil {
		log.Fatalf("Failed to initialize scale session: %s", err)
	}

	s.SetMeasurementHandler(func(m scale.Measurement) {
		log.Warnf("Read MEASUREMENT from Handler: %v, %v", &m, s.ConnectionStatus())
	})

	measurementChan := make(chan scale.Measurement, 256)
	s.SetMeasurementChannel(measurementChan)

	stateChan := make(chan scale.ConnectionStatus)
	s.SetStateChangeChannel(stateChan)

	go func() {
		for st := range stateChan {
			log.Warnf("State change: %v", st)
		}
	}()

	api.New(s, cfg.endpoint)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		log.Infof("Got signal, terminating connection to device")
		if err := s.Close(); err != nil {
			log.Errorf("Failed to close session: %s", err)
		}
		os.Exit(0)
	}()

	for m := range measurementChan {
		log.Warnf("Read MEASUREMENT from Channel: %v, %v, battery %d%%", &m, s.ConnectionStatus(), s.BatteryLevel())
	}
}
