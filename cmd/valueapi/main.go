// ABOUTME: Entry point for the valueapi variable server
// ABOUTME: Dispatches the serve, init, token, hash-password and health subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/valueapi/internal/config"
	"github.com/2389/valueapi/internal/server"
)

// Version is set at build time.
var version = "dev"

const banner = `
            _                         _
 __ ____ _ | |_  _  ___  __ _  _ __ (_)
 \ V / _' || | || |/ -_)/ _' || '_ \| |
  \_/\__,_||_|\_,_|\___|\__,_|| .__/|_|
                              |_|
`

func usage() {
	fmt.Println("Usage: valueapi <command> [--config PATH]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the server")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  token [NAME]           Show API tokens from the data store")
	fmt.Println("  hash-password          Print a bcrypt hash for admin.password_hash")
	fmt.Println("  health                 Check server health")
	fmt.Println()
	fmt.Println("Without --config, VALUEAPI_CONFIG names the config file. With neither,")
	fmt.Println("settings come from PORT, TOKEN and ADMIN_PASSWORD.")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit(args)
	case "token":
		err = runToken(ctx, args)
	case "hash-password":
		err = runHashPassword(args)
	case "health":
		err = runHealth(ctx, args)
	case "-h", "--help", "help":
		usage()
	case "--version", "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commandFlags returns a flag set with the shared --config flag
func commandFlags(name string, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("valueapi "+name, pflag.ContinueOnError)
	fs.StringVarP(configPath, "config", "c", "", "config file (YAML, or TOML by .toml extension)")
	return fs
}

// resolveConfigPath picks the --config flag, then VALUEAPI_CONFIG
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("VALUEAPI_CONFIG")
}

// loadConfig loads the config file, or builds one from the environment when
// no file is named
func loadConfig(flagValue string) (*config.Config, string, error) {
	path := resolveConfigPath(flagValue)
	if path == "" {
		cfg, err := config.FromEnvironment()
		if err != nil {
			return nil, "", fmt.Errorf("loading config from environment: %w", err)
		}
		return cfg, "(environment)", nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, args []string) error {
	var configPath string
	fs := commandFlags("serve", &configPath)
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, source, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	// Components take their loggers from slog.Default
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("    ▶ ")
	fmt.Printf("Storage:   %s (%s)\n", cfg.Storage.Dir, cfg.Storage.Driver)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	fmt.Println()

	logger.Info("starting valueapi",
		"config", source,
		"http_addr", cfg.Server.HTTPAddr,
		"storage", cfg.Storage.Driver,
	)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

// healthURL turns the listen address into one a local client can dial
func healthURL(httpAddr string) (string, error) {
	host, port, err := net.SplitHostPort(httpAddr)
	if err != nil {
		return "", fmt.Errorf("parsing server.http_addr %q: %w", httpAddr, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/health", nil
}

func runHealth(ctx context.Context, args []string) error {
	var configPath string
	fs := commandFlags("health", &configPath)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Tailscale.Enabled {
		return errors.New("health check over tailscale is not supported; query http://<hostname>/health from a tailnet device")
	}

	url, err := healthURL(cfg.Server.HTTPAddr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
