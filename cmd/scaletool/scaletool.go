package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fako1024/btbodyscale/pkg/cult"
	"github.com/fako1024/btbodyscale/pkg/prefs"
	"github.com/fako1024/btbodyscale/pkg/scale"
	"github.com/sirupsen/logrus"
)

type config struct {
	name      string
	addr      string
	prefsPath string
	debug     bool

	userID   int
	age      int
	heightCm int
	male     bool
}

var log = logrus.New()

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() (err error) {

	// Parse command line options
	var cfg config

	flag.StringVar(&cfg.name, "name", "Cult Smart Scale Pro", "name of remote peripheral")
	flag.StringVar(&cfg.addr, "addr", "", "address of remote peripheral (MAC on Linux, UUID on OS X)")
	flag.StringVar(&cfg.prefsPath, "prefs", prefs.DefaultPath(), "path to the preference file")
	flag.BoolVar(&cfg.debug, "debug", false, "enable debug logging")

	flag.IntVar(&cfg.userID, "user", 1, "user ID written to the scale")
	flag.IntVar(&cfg.age, "age", 30, "user age in years")
	flag.IntVar(&cfg.heightCm, "height", 175, "user height in cm")
	flag.BoolVar(&cfg.male, "male", false, "user gender is male")
	flag.Parse()

	store, err := prefs.New(cfg.prefsPath)
	if err != nil {
		return fmt.Errorf("failed to open preference store: %s", err)
	}

	s, err := cult.New(
		cult.WithDeviceName(cfg.name),
		cult.WithDeviceID(cfg.addr),
		cult.WithPreferences(store),
		cult.WithLogger(scale.NewDefaultLogger(cfg.debug)),
		cult.WithUser(cult.User{
			ID:       cfg.userID,
			Age:      cfg.age,
			HeightCm: cfg.heightCm,
			Male:     cfg.male,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize scale session: %s", err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			err = cerr
			return
		}
	}()

	s.SetMeasurementHandler(func(m scale.Measurement) {
		log.Infof("Measurement: %s (%.2f %s)", &m, s.Unit().Convert(m.Weight), s.Unit().Symbol())
	})
	s.SetSignalHandler(func(sig scale.Signal, arg int) {
		log.Warnf("Signal: %v (%d)", sig, arg)
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, os.Interrupt)
	<-sigChan
	log.Info("Got signal, terminating connection to device")
	log.Info(s.StatusSummary())

	return nil
}
