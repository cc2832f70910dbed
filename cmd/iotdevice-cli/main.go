// Command iotdevice-cli is a reference iotdevice client.
//
// It drives an iotdevice.Client against an in-memory loopback transport
// (internal/demotransport) so the session lifecycle, telemetry,
// settlement and direct-method flows can be exercised interactively
// without a real hub connection.
//
// Usage:
//
//	iotdevice-cli [flags]
//
// Flags:
//
//	-config string          YAML config file (see internal/deviceconfig)
//	-connection-string string  Device connection string (overrides -config)
//	-auth-mode string        shared-key, bearer or x509 (default "shared-key")
//	-log-level string        debug, info, warn or error (default "info")
//	-log-file string         also stream session events, CBOR-encoded, to this file
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rtmaster/iothub/internal/demotransport"
	"github.com/rtmaster/iothub/internal/devicelog"
	"github.com/rtmaster/iothub/iotdevice"
)

type cliConfig struct {
	ConfigFile       string
	ConnectionString string
	AuthMode         string
	LogLevel         string
	LogFile          string
}

var config cliConfig

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "YAML config file path")
	flag.StringVar(&config.ConnectionString, "connection-string", "", "Device connection string (overrides -config)")
	flag.StringVar(&config.AuthMode, "auth-mode", "shared-key", "Auth mode: shared-key, bearer, x509")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.LogFile, "log-file", "", "also stream session events, CBOR-encoded, to this file")
}

func main() {
	flag.Parse()
	setupLogging(config.LogLevel)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	sessionLog, closeSessionLog, err := setupSessionLogger(config.LogLevel, config.LogFile)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer closeSessionLog()

	transport := demotransport.New()
	client := iotdevice.NewClient(transport, iotdevice.ClientConfig{Config: cfg, Logger: sessionLog})

	client.OnDisconnect(func(err error) {
		log.Printf("[EVENT] disconnected: %v", err)
	})
	client.OnError(func(err error) {
		log.Printf("[EVENT] error: %v", err)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("Received signal: %v", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	shell, err := NewShell(client, transport)
	if err != nil {
		log.Fatalf("Failed to start shell: %v", err)
	}
	defer shell.Close()
	log.SetOutput(shell.Stdout())

	shell.Run(ctx, cancel)

	log.Println("Goodbye!")
}

func loadConfig() (iotdevice.Config, error) {
	mode := iotdevice.AuthSharedKey
	switch config.AuthMode {
	case "bearer":
		mode = iotdevice.AuthBearer
	case "x509":
		mode = iotdevice.AuthX509
	}

	if config.ConfigFile != "" {
		f, err := os.Open(config.ConfigFile)
		if err != nil {
			return iotdevice.Config{}, err
		}
		defer f.Close()
		cfg, err := iotdevice.ConfigFromYAML(f)
		if err != nil {
			return iotdevice.Config{}, err
		}
		if config.ConnectionString != "" {
			cfg.ConnectionString = config.ConnectionString
		}
		return cfg, nil
	}

	cfg := iotdevice.DefaultConfig(mode)
	cfg.ConnectionString = config.ConnectionString
	return cfg, nil
}

func setupLogging(level string) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	case "warn", "error":
		log.SetFlags(log.Ltime)
	}
}

// setupSessionLogger builds the devicelog.Logger passed to the client:
// a console SlogAdapter at the requested verbosity, optionally fanned
// out (via MultiLogger) to a CBOR-encoded FileLogger when -log-file is
// given, so a session can be replayed later without rerunning the shell.
func setupSessionLogger(level, path string) (devicelog.Logger, func(), error) {
	console := devicelog.NewSlogAdapter(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(level),
	})))
	if path == "" {
		return console, func() {}, nil
	}
	file, err := devicelog.NewFileLogger(path)
	if err != nil {
		return nil, nil, err
	}
	return devicelog.NewMultiLogger(console, file), func() { _ = file.Close() }, nil
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
