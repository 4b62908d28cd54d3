// hublink - programmable hub control-plane client
//
// hublink connects to a programmable hub over BLE, USB or SSH, compiles
// MicroPython programs, downloads them to hub storage and runs them while
// streaming program output back to the terminal and, optionally, to an
// MQTT broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nbirch/hublink/internal/compile"
	"github.com/nbirch/hublink/internal/ev3"
	"github.com/nbirch/hublink/internal/hub"
	"github.com/nbirch/hublink/internal/infrastructure/config"
	"github.com/nbirch/hublink/internal/infrastructure/logging"
	"github.com/nbirch/hublink/internal/infrastructure/mqtt"
	"github.com/nbirch/hublink/internal/telemetry"
	"github.com/nbirch/hublink/internal/transport"
	"github.com/nbirch/hublink/internal/transport/bluezdev"
	"github.com/nbirch/hublink/internal/transport/usbdev"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

const usage = `usage: hublink <command> [arguments]

commands:
  download <script.py>   compile the program and store it on the hub
  run      <script.py>   download, start and wait for the program
  start                  start the stored program without waiting
  stop                   stop the running program
  monitor                print status changes and program output
`

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New(usage)
	}
	command := args[0]

	var script string
	switch command {
	case "download", "run":
		if len(args) < 2 {
			return errors.New(usage)
		}
		script = args[1]
	case "start", "stop", "monitor":
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}

	// Use default logger until config is loaded
	log := logging.Default()

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("starting hublink",
		"version", version,
		"commit", commit,
		"build_date", date,
		"transport", cfg.Hub.Transport,
	)

	// The legacy brick transport has its own program flow: sources move
	// over SSH and run interpreted, with no framed session.
	if cfg.Hub.Transport == "ev3" {
		return runEV3(ctx, cfg, log, command, script)
	}

	session := hub.NewSession(dialer(cfg, log), log)
	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer func() {
		log.Info("disconnecting")
		if closeErr := session.Disconnect(); closeErr != nil {
			log.Error("error disconnecting", "error", closeErr)
		}
	}()

	identity, err := session.Identity()
	if err != nil {
		return err
	}

	// Start telemetry publishing (optional)
	if cfg.Telemetry.Enabled {
		topics := mqtt.NewTopics(cfg.Telemetry.TopicPrefix)
		mqttClient, err := mqtt.Connect(cfg.Telemetry.MQTT, topics)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.Telemetry.MQTT.Broker.Host, cfg.Telemetry.MQTT.Broker.Port),
			"client_id", cfg.Telemetry.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		events, err := session.Events()
		if err != nil {
			return err
		}
		publisher := telemetry.NewPublisher(mqttClient, topics,
			telemetry.HubID(identity), byte(cfg.Telemetry.MQTT.QoS), log)
		go publisher.Run(ctx, events)
	}

	switch command {
	case "download":
		return download(ctx, cfg, session, script)

	case "run":
		if err := download(ctx, cfg, session, script); err != nil {
			return err
		}
		return runProgram(ctx, session, true)

	case "start":
		return session.Run(ctx, false)

	case "stop":
		return session.Stop(ctx)

	default: // monitor
		return monitor(ctx, session, log)
	}
}

// dialer builds the framed transport dialer for the configured bus.
func dialer(cfg *config.Config, log *logging.Logger) hub.Dialer {
	switch cfg.Hub.Transport {
	case "usb":
		return hub.DialerFunc(func(ctx context.Context) (transport.Transport, error) {
			dev, err := usbdev.Open(ctx, usbdev.Config{
				VendorID:  cfg.Hub.USB.VendorID,
				ProductID: cfg.Hub.USB.ProductID,
			}, log)
			if err != nil {
				return nil, err
			}
			return transport.NewUSB(dev, transport.WithLogger(log)), nil
		})
	default:
		return hub.DialerFunc(func(ctx context.Context) (transport.Transport, error) {
			scanCtx, cancel := context.WithTimeout(ctx, cfg.GetScanTimeout())
			defer cancel()
			dev, err := bluezdev.Connect(scanCtx, bluezdev.Config{
				Adapter: cfg.Hub.BLE.Adapter,
				Address: cfg.Hub.BLE.Address,
				Name:    cfg.Hub.BLE.Name,
			}, log)
			if err != nil {
				return nil, err
			}
			return transport.NewBLE(dev, transport.WithLogger(log)), nil
		})
	}
}

// download compiles the script and its imports and writes the bundle to
// hub storage.
func download(ctx context.Context, cfg *config.Config, session *hub.Session, script string) error {
	modules, err := compile.Resolve(script)
	if err != nil {
		return err
	}

	caps, err := session.Capabilities()
	if err != nil {
		return err
	}

	compiler := compile.NewCrossCompiler(cfg.Compiler.MpyCross, cfg.Compiler.MpyCrossV5)
	entries, err := compile.Build(ctx, compiler, modules, caps.ABI)
	if err != nil {
		return err
	}

	return session.Download(ctx, entries)
}

// runProgram starts the stored program and echoes its output until it
// finishes.
func runProgram(ctx context.Context, session *hub.Session, wait bool) error {
	events, err := session.Events()
	if err != nil {
		return err
	}
	sub := events.Subscribe()
	defer events.Unsubscribe(sub)

	printCtx, stopPrinting := context.WithCancel(ctx)
	defer stopPrinting()
	go func() {
		for {
			select {
			case line := <-sub.Lines():
				fmt.Println(line)
			case <-printCtx.Done():
				return
			}
		}
	}()

	return session.Run(ctx, wait)
}

// monitor prints status changes and output lines until interrupted or the
// hub disconnects.
func monitor(ctx context.Context, session *hub.Session, log *logging.Logger) error {
	events, err := session.Events()
	if err != nil {
		return err
	}
	sub := events.Subscribe()
	defer events.Unsubscribe(sub)

	log.Info("monitoring, press Ctrl+C to stop")
	for {
		select {
		case flags := <-sub.Status():
			log.Info("hub status",
				"program_running", flags.ProgramRunning(),
				"raw", uint32(flags),
			)
		case line := <-sub.Lines():
			fmt.Println(line)
		case <-ctx.Done():
			return nil
		}
	}
}

// runEV3 handles the legacy brick flow: raw sources over SSH, interpreted
// on the brick, output streamed back on stderr.
func runEV3(ctx context.Context, cfg *config.Config, log *logging.Logger, command, script string) error {
	conn := ev3.NewConnection(ev3.Config{
		Host:     cfg.Hub.EV3.Host,
		User:     cfg.Hub.EV3.User,
		Password: cfg.Hub.EV3.Password,
	}, log)

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer func() {
		if closeErr := conn.Disconnect(); closeErr != nil {
			log.Error("error disconnecting", "error", closeErr)
		}
	}()

	switch command {
	case "download", "run":
		source, err := os.ReadFile(script)
		if err != nil {
			return fmt.Errorf("reading script: %w", err)
		}
		remote := filepath.Base(script)
		if err := conn.Download(ctx, remote, source); err != nil {
			return err
		}
		if command == "download" {
			return nil
		}
		return conn.Run(ctx, remote, func(line string) {
			fmt.Println(line)
		})

	default:
		return fmt.Errorf("command %q is not supported on the ev3 transport", command)
	}
}

// getConfigPath returns the configuration file path.
// Uses HUBLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HUBLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
