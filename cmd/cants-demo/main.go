// Command cants-demo exercises the CAN-TS engine over either the
// in-process virtual link backend (default) or a real Linux SocketCAN
// interface (-backend socketcan): against the virtual backend it also
// starts a minimal scripted responder and drives a telecommand exchange
// against it, logging every emitted event.
package main

import (
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skycants/cants"
	"github.com/skycants/cants/pkg/link"
	_ "github.com/skycants/cants/pkg/link/socketcan"
	_ "github.com/skycants/cants/pkg/link/virtual"
)

func main() {
	var (
		localAddr  = flag.Uint("address", 0x10, "local node address")
		remoteAddr = flag.Uint("remote", 0x20, "remote node address to exchange with")
		backend    = flag.String("backend", "virtual", "link backend: virtual or socketcan")
		nominal    = flag.String("nominal", "demo-nominal", "nominal bus channel/interface name")
		redundant  = flag.String("redundant", "demo-redundant", "redundant bus channel/interface name")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	log := logrus.WithField("component", "cants-demo")

	var settings cants.DriverSettings
	switch *backend {
	case "socketcan":
		settings = cants.SocketCANSettings{NominalInterface: *nominal, RedundantInterface: *redundant}
	default:
		responder, err := newScriptedResponder(byte(*remoteAddr), byte(*localAddr), *nominal)
		if err != nil {
			log.WithError(err).Fatal("opening scripted responder")
		}
		defer responder.close()
		settings = cants.VirtualSettings{NominalChannel: *nominal, RedundantChannel: *redundant}
	}

	engine := cants.NewEngine(cants.DefaultConfig())
	engine.OnEvent(func(ev cants.Event) {
		log.WithFields(logrus.Fields{
			"kind":    ev.Kind,
			"address": ev.Address,
			"channel": ev.Channel,
		}).Info("event")
	})

	if err := engine.Start(byte(*localAddr), 100, settings); err != nil {
		log.WithError(err).Fatal("starting engine")
	}
	defer engine.Stop()

	if err := engine.SendTC(byte(*remoteAddr), 0, []byte{0x01}, cants.DefaultTCMaxRetries); err != nil {
		log.WithError(err).Error("SendTC")
	}

	time.Sleep(500 * time.Millisecond)
	os.Exit(0)
}

// scriptedResponder answers telecommands addressed to localAddr with an
// immediate ACK, standing in for the real responder node that is out of
// scope for this module.
type scriptedResponder struct {
	driver    link.Driver
	localAddr byte
	peerAddr  byte
}

func newScriptedResponder(localAddr, peerAddr byte, nominalChannel string) (*scriptedResponder, error) {
	driver, err := link.NewDriver("virtual", nominalChannel)
	if err != nil {
		return nil, err
	}
	r := &scriptedResponder{driver: driver, localAddr: localAddr, peerAddr: peerAddr}
	driver.Subscribe(r)
	if err := driver.Open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *scriptedResponder) close() { r.driver.Close() }

func (r *scriptedResponder) FrameSent(f link.Frame)                            {}
func (r *scriptedResponder) SendError(f link.Frame, reason link.SendErrorReason) {}

func (r *scriptedResponder) FrameReceived(lf link.Frame) {
	frame, err := cants.Decode(lf)
	if err != nil || frame.ToAddress != r.localAddr {
		return
	}
	if frame.TransferType == cants.Telecommand {
		ack := cants.NewTelecommandFrame(frame.FromAddress, r.localAddr, cants.TCAck, 0, nil)
		r.send(ack)
	}
}

func (r *scriptedResponder) send(f cants.Frame) {
	lf, err := cants.Encode(f)
	if err != nil {
		return
	}
	r.driver.Send(lf)
}
