/*
walkingpad-controller - Control a WalkingPad treadmill over Bluetooth LE.
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/TheCacophonyProject/walkingpad-controller/bluez"
	"github.com/TheCacophonyProject/walkingpad-controller/device"
	"github.com/TheCacophonyProject/walkingpad-controller/device/fake"
	"github.com/TheCacophonyProject/walkingpad-controller/internal/session"
	"github.com/TheCacophonyProject/walkingpad-controller/internal/web"
	"github.com/TheCacophonyProject/walkingpad-controller/padrequest"
	"github.com/alexflint/go-arg"
)

var (
	version = "<not set>"
	log     = logging.NewLogger("info")
)

const simulatedAddress = "00:00:00:00:00:01"

type Args struct {
	Service *Service    `arg:"subcommand:service" help:"Run the walking pad service."`
	Find    *subcommand `arg:"subcommand:find"    help:"Scan for a walking pad and print its address."`
	Ctl     *Ctl        `arg:"subcommand:ctl"     help:"Control the running service."`
	goconfig.ConfigArgs
	logging.LogArgs
}

type subcommand struct {
}

type Service struct {
	Simulate    bool   `arg:"--simulate"     help:"Use a simulated walking pad instead of Bluetooth."`
	HTTPAddress string `arg:"--http-address" help:"Address for the HTTP API, overrides the config."`
}

type Ctl struct {
	Connect *subcommand `arg:"subcommand:connect" help:"Connect to the walking pad."`
	Start   *subcommand `arg:"subcommand:start"   help:"Start a new session."`
	Pause   *subcommand `arg:"subcommand:pause"   help:"Pause the session."`
	Resume  *subcommand `arg:"subcommand:resume"  help:"Resume the session."`
	Status  *subcommand `arg:"subcommand:status"  help:"Print the pad and session status."`
	Speed   *Speed      `arg:"subcommand:speed"   help:"Set the belt speed."`
}

type Speed struct {
	Kmh float64 `arg:"--kmh,required" help:"Speed in km/h."`
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)
	session.SetLogger(log)

	log.Infof("Running version: %s", version)

	switch {
	case args.Find != nil:
		return find(args)
	case args.Ctl != nil:
		return runCtl(args.Ctl)
	case args.Service != nil:
		return runService(args, args.Service)
	default:
		return runService(args, &Service{})
	}
}

func runService(args Args, opts *Service) error {
	conf, err := ParsePadConfig(args.ConfigDir)
	if err != nil {
		return err
	}
	go func() {
		if err := checkConfigChanges(conf, args.ConfigDir); err != nil {
			log.Errorf("Failed to watch config: %v", err)
		}
	}()

	webConf := conf.Web()
	if opts.HTTPAddress != "" {
		webConf.Address = opts.HTTPAddress
	}

	discoverer, err := newDiscoverer(conf, opts.Simulate)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctl := session.NewController(conf.Session(), discoverer, eventclient.AddEvent)
	go ctl.Run(ctx)
	defer ctl.Close()

	if err := startService(ctl, webConf.ConnectTimeout); err != nil {
		return err
	}

	if conf.ConnectOnStart {
		go func() {
			if _, err := ctl.Connect(ctx); err != nil {
				log.Errorf("Initial connect failed: %v", err)
			}
		}()
	}

	server := web.NewServer(webConf, ctl, cancel, log)
	return server.Run(ctx)
}

func newDiscoverer(conf *PadConfig, simulate bool) (device.Discoverer, error) {
	if simulate {
		log.Info("Using a simulated walking pad")
		return fake.NewDiscoverer(simulatedAddress, func(address string) device.Session {
			return fake.NewSimulatedPad(address)
		}), nil
	}
	return bluez.NewAdapter(conf.Adapter, log)
}

func find(args Args) error {
	conf, err := ParsePadConfig(args.ConfigDir)
	if err != nil {
		return err
	}
	adapter, err := bluez.NewAdapter(conf.Adapter, log)
	if err != nil {
		return err
	}
	timeout := conf.Session().NameTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	log.Infof("Scanning for '%s' for %s", conf.DeviceName, timeout)
	address, err := adapter.FindByName(ctx, conf.DeviceName)
	if err != nil {
		return err
	}
	fmt.Println(address)
	return nil
}

func runCtl(c *Ctl) error {
	switch {
	case c.Connect != nil:
		state, err := padrequest.Connect()
		if err != nil {
			return err
		}
		fmt.Println(state)
	case c.Start != nil:
		return padrequest.Start()
	case c.Pause != nil:
		return padrequest.Pause()
	case c.Resume != nil:
		return padrequest.Resume()
	case c.Speed != nil:
		set, err := padrequest.SetSpeed(c.Speed.Kmh)
		if err != nil {
			return err
		}
		fmt.Printf("Speed set to %.1f km/h\n", set)
	case c.Status != nil:
		st, err := padrequest.GetStatus()
		if err != nil {
			return err
		}
		printStatus(st)
	default:
		return errors.New("no ctl command given")
	}
	return nil
}

func printStatus(st padrequest.Status) {
	fmt.Printf("Connection: %s\n", st.Connection)
	fmt.Printf("Session:    %s %s\n", st.Session, st.SessionID)
	fmt.Printf("Speed:      %.1f km/h\n", st.SpeedKmh)
	fmt.Printf("Distance:   %.2f km\n", st.DistanceKm)
	fmt.Printf("Steps:      %d\n", st.Steps)
	fmt.Printf("Calories:   %.0f kcal\n", st.CaloriesKcal)
	if st.Session == session.Paused.String() {
		fmt.Printf("Resume at:  %.1f km/h\n", st.ResumeSpeedKmh)
	}
}
