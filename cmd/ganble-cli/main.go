// ganble-cli
// Command-line harness for the GAN cube/timer client library.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ganlink/ganble/internal/bus"
	"github.com/ganlink/ganble/internal/event"
	"github.com/ganlink/ganble/internal/session"
	"github.com/ganlink/ganble/internal/storage"
	"github.com/ganlink/ganble/internal/wsrelay"
)

// Exit codes follow the illustrative CLI taxonomy: 0 normal, 1 bad args,
// 2 transport failure, 3 decryption/CRC failure, 4 protocol desync.
// Codes 3 and 4 are defined but no command returns them.
const (
	exitOK = iota
	exitBadArgs
	exitTransportFailure
	exitDecryptFailure
	exitProtocolDesync
)

// Config represents the configuration file structure.
type Config struct {
	Device struct {
		Name    string `yaml:"name"`
		MAC     string `yaml:"mac"`
		Service string `yaml:"service"`
	} `yaml:"device"`

	Bridge struct {
		URL string `yaml:"url"`
	} `yaml:"bridge"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Bus struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"bus"`

	Relay struct {
		Listen string `yaml:"listen"`
	} `yaml:"relay"`
}

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "ganble-cli",
		Short: "GAN smart-cube/timer BLE client",
		Long:  "Command-line client for GAN-branded smart cubes and the GAN smart timer over BLE.",
	}

	connectCmd = &cobra.Command{
		Use:   "connect",
		Short: "Connect to a device and stream decoded events until interrupted",
		RunE:  runConnect,
	}

	sendCmd = &cobra.Command{
		Use:   "send [facelets|hardware|battery|reset]",
		Short: "Connect, send one command, and log events for 10 seconds",
		Args:  cobra.ExactArgs(1),
		RunE:  runSend,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("ganble-cli v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/ganble/client.yaml", "Configuration file path")
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the illustrative exit taxonomy. Errors that
// don't carry a more specific code fall back to exitBadArgs, matching the
// "1 bad args" default for any command-line-level failure.
func exitCodeFor(err error) int {
	switch e := err.(type) {
	case *cliError:
		return e.code
	default:
		return exitBadArgs
	}
}

// cliError pairs an error with the exit code it should produce.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// buildSession wires a session.Session from cfg: a wsrelay.DialTransport
// over the companion bridge, optional storage and bus mirrors, and a
// logging sink that also relays to the wsrelay.Server broadcast surface.
func buildSession(cfg *Config) (*session.Session, func(), error) {
	if cfg.Device.Service == "" {
		return nil, nil, &cliError{exitBadArgs, fmt.Errorf("device.service is required")}
	}
	if cfg.Bridge.URL == "" {
		return nil, nil, &cliError{exitBadArgs, fmt.Errorf("bridge.url is required")}
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	sessCfg := session.Config{
		DeviceName: cfg.Device.Name,
		DeviceMAC:  cfg.Device.MAC,
		Service:    cfg.Device.Service,
	}

	if cfg.Database.Path != "" {
		db, err := storage.Open(cfg.Database.Path)
		if err != nil {
			cleanup()
			return nil, nil, &cliError{exitTransportFailure, fmt.Errorf("open database: %w", err)}
		}
		closers = append(closers, func() { db.Close() })
		sessCfg.Store = db
	}

	if cfg.Bus.Endpoint != "" {
		pub, err := bus.NewPublisher(context.Background(), cfg.Bus.Endpoint)
		if err != nil {
			cleanup()
			return nil, nil, &cliError{exitTransportFailure, fmt.Errorf("open bus publisher: %w", err)}
		}
		closers = append(closers, func() { pub.Close() })
		sessCfg.Publisher = pub
	}

	var relay *wsrelay.Server
	if cfg.Relay.Listen != "" {
		relay = wsrelay.NewServer()
		srv := &http.Server{Addr: cfg.Relay.Listen, Handler: relay}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("ganble-cli: relay server stopped: %v", err)
			}
		}()
		closers = append(closers, func() { srv.Close() })
	}

	transport := wsrelay.NewDialTransport(cfg.Bridge.URL)
	closers = append(closers, func() { transport.Disconnect(context.Background()) })

	var s *session.Session
	var seq uint64
	sink := event.SinkFunc(func(ev event.Event) {
		logEvent(ev)
		if relay != nil {
			seq++
			relay.Broadcast(s.ID(), seq, ev)
		}
	})

	s, err := session.New(sessCfg, transport, sink)
	if err != nil {
		cleanup()
		return nil, nil, &cliError{exitBadArgs, err}
	}
	return s, cleanup, nil
}

func logEvent(ev event.Event) {
	switch {
	case ev.Move != nil:
		log.Printf("move: %s (serial=%d)", ev.Move.Notation(), ev.Move.Serial)
	case ev.Facelet != nil:
		log.Printf("facelet: serial=%d %s", ev.Facelet.Serial, ev.Facelet.Facelets)
	case ev.Gyro != nil:
		log.Printf("gyro sample")
	case ev.Hardware != nil:
		log.Printf("hardware: %s hw=%d.%d sw=%d.%d", ev.Hardware.Name,
			ev.Hardware.HardwareMajor, ev.Hardware.HardwareMinor,
			ev.Hardware.SoftwareMajor, ev.Hardware.SoftwareMinor)
	case ev.Battery != nil:
		log.Printf("battery: %d%%", ev.Battery.Percent)
	case ev.Timer != nil:
		log.Printf("timer: state=%d recorded=%dms", ev.Timer.State, ev.Timer.RecordedTime.AsTimestamp())
	case ev.Disconnect != nil:
		log.Println("disconnect")
	}
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return &cliError{exitBadArgs, err}
	}

	s, cleanup, err := buildSession(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	log.Printf("ganble-cli: connected session %s, streaming events", s.ID())

	select {
	case sig := <-sigChan:
		log.Printf("received signal %v, disconnecting", sig)
		s.Disconnect(context.Background())
		<-runErr
	case err := <-runErr:
		if err != nil {
			return &cliError{exitTransportFailure, err}
		}
	}
	return nil
}

var commandKinds = map[string]event.CommandKind{
	"facelets": event.CmdRequestFacelets,
	"hardware": event.CmdRequestHardware,
	"battery":  event.CmdRequestBattery,
	"reset":    event.CmdRequestReset,
}

func runSend(cmd *cobra.Command, args []string) error {
	kind, ok := commandKinds[args[0]]
	if !ok {
		return &cliError{exitBadArgs, fmt.Errorf("unknown command %q (want one of facelets, hardware, battery, reset)", args[0])}
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return &cliError{exitBadArgs, err}
	}

	s, cleanup, err := buildSession(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go s.Run(ctx)

	if err := s.SendCommand(ctx, event.Command{Kind: kind}); err != nil {
		return &cliError{exitTransportFailure, fmt.Errorf("send command: %w", err)}
	}

	<-ctx.Done()
	s.Disconnect(context.Background())
	return nil
}
