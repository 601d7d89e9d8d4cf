// canhal runs the hardware interface from an ini description and logs all
// bus traffic, optionally recording it to a trace file for later replay.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	canhal "github.com/openagritech/canhal"
	"github.com/openagritech/canhal/pkg/config"
	"github.com/openagritech/canhal/pkg/driver"
	"github.com/openagritech/canhal/pkg/hardware"
	"github.com/openagritech/canhal/pkg/record"
	log "github.com/sirupsen/logrus"

	// Driver backends register themselves
	_ "github.com/openagritech/canhal/pkg/driver/replay"
	_ "github.com/openagritech/canhal/pkg/driver/socketcan"
	_ "github.com/openagritech/canhal/pkg/driver/virtual"
)

var DEFAULT_DRIVER = "socketcan"
var DEFAULT_ENDPOINT = "can0"

func main() {
	log.SetLevel(log.DebugLevel)
	configPath := flag.String("c", "", "interface description ini file")
	driverKind := flag.String("d", DEFAULT_DRIVER, "driver kind for a single channel setup")
	endpoint := flag.String("e", DEFAULT_ENDPOINT, "driver endpoint e.g. can0, vcan0, localhost:18888")
	tracePath := flag.String("r", "", "record received frames to a trace file")
	flag.Parse()

	iface := hardware.NewInterface(nil)

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			panic(err)
		}
		if err := cfg.Apply(iface); err != nil {
			panic(err)
		}
	} else {
		drv, err := driver.New(*driverKind, *endpoint)
		if err != nil {
			panic(err)
		}
		if err := iface.SetChannelCount(1); err != nil {
			panic(err)
		}
		if err := iface.AssignDriver(0, drv); err != nil {
			panic(err)
		}
	}

	iface.FrameReceived().Subscribe(func(frame canhal.Frame) {
		log.Infof("[RX][ch %v] id x%03x dlc %v % x", frame.Channel, frame.Arbitration(), frame.DLC, frame.Data[:frame.DLC])
	})
	iface.FrameTransmitted().Subscribe(func(frame canhal.Frame) {
		log.Debugf("[TX][ch %v] id x%03x dlc %v % x", frame.Channel, frame.Arbitration(), frame.DLC, frame.Data[:frame.DLC])
	})

	if *tracePath != "" {
		f, err := os.Create(*tracePath)
		if err != nil {
			panic(err)
		}
		defer f.Close()
		writer := record.NewWriter(f)
		iface.FrameReceived().Subscribe(writer.Listener())
		log.Infof("recording trace to %v", *tracePath)
	}

	if err := iface.Start(); err != nil {
		panic(err)
	}
	log.Infof("hardware interface started with %v channel(s), periodic update every %v",
		iface.ChannelCount(), iface.PeriodicUpdateInterval())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("stopping")
	if err := iface.Stop(); err != nil {
		log.Errorf("stop failed : %v", err)
	}
}
