// ABOUTME: Offline subcommands: interactive config init, token listing, password hashing
// ABOUTME: These work on the config file and data store directly, without a running server

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/valueapi/internal/config"
	"github.com/2389/valueapi/internal/server"
	"github.com/2389/valueapi/internal/tokens"
	"github.com/2389/valueapi/internal/webadmin"
)

// initAnswers are the values collected by runInit
type initAnswers struct {
	HTTPAddr           string
	TrustProxy         bool
	CookieSecure       bool
	StorageDriver      string
	StorageDir         string
	AdminPassword      string
	Token              string
	HistoryLimit       string
	TailscaleOn        bool
	TailscaleHost      string
	TailscaleAuth      string
	TailscaleEphemeral bool
	LogLevel           string
	LogFormat          string
}

// renderConfig produces the YAML written by runInit
func renderConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# valueapi configuration\n")
	b.WriteString("# Generated by valueapi init\n\n")

	b.WriteString("server:\n")
	if !a.TailscaleOn {
		fmt.Fprintf(&b, "  http_addr: %q\n", a.HTTPAddr)
	}
	fmt.Fprintf(&b, "  trust_proxy: %t\n\n", a.TrustProxy)

	b.WriteString("storage:\n")
	fmt.Fprintf(&b, "  driver: %q\n", a.StorageDriver)
	fmt.Fprintf(&b, "  dir: %q\n\n", a.StorageDir)

	b.WriteString("auth:\n")
	b.WriteString("  # Seeds the Default token on first start; change it later in the admin UI\n")
	fmt.Fprintf(&b, "  token: %q\n\n", a.Token)

	b.WriteString("admin:\n")
	fmt.Fprintf(&b, "  password: %q\n", a.AdminPassword)
	fmt.Fprintf(&b, "  cookie_secure: %t\n\n", a.CookieSecure)

	b.WriteString("history:\n")
	fmt.Fprintf(&b, "  limit: %s\n\n", a.HistoryLimit)

	b.WriteString("tailscale:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", a.TailscaleOn)
	if a.TailscaleOn {
		fmt.Fprintf(&b, "  hostname: %q\n", a.TailscaleHost)
		if a.TailscaleAuth != "" {
			fmt.Fprintf(&b, "  auth_key: %q\n", a.TailscaleAuth)
		}
		fmt.Fprintf(&b, "  ephemeral: %t\n", a.TailscaleEphemeral)
	}
	b.WriteString("\n")

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n", a.LogFormat)

	return b.String()
}

func runInit(args []string) error {
	var configPath string
	fs := commandFlags("init", &configPath)
	if err := fs.Parse(args); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("valueapi configuration setup")
	fmt.Println("============================")
	fmt.Println()

	defaultPath := resolveConfigPath(configPath)
	if defaultPath == "" {
		defaultPath = "valueapi.yaml"
	}
	outputFile := prompt(reader, "Config file path", defaultPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	generatedPassword, err := randomHex(12)
	if err != nil {
		return fmt.Errorf("generating admin password: %w", err)
	}
	generatedToken, err := randomHex(32)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	var a initAnswers

	fmt.Println("\n--- Server ---")
	a.TailscaleOn = isYes(prompt(reader, "Serve on a tailnet with Tailscale?", "no"))
	if a.TailscaleOn {
		a.TailscaleHost = prompt(reader, "Tailscale hostname", "valueapi")
		a.TailscaleAuth = prompt(reader, "Tailscale auth key (empty uses TS_AUTHKEY)", "")
		a.TailscaleEphemeral = isYes(prompt(reader, "Ephemeral node?", "no"))
	} else {
		a.HTTPAddr = prompt(reader, "HTTP address", "0.0.0.0:3000")
		a.TrustProxy = isYes(prompt(reader, "Behind a reverse proxy (trust X-Forwarded-For)?", "no"))
		a.CookieSecure = a.TrustProxy && isYes(prompt(reader, "Proxy terminates HTTPS?", "yes"))
	}

	fmt.Println("\n--- Storage ---")
	a.StorageDriver = prompt(reader, "Storage driver (file/sqlite)", config.DriverFile)
	a.StorageDir = prompt(reader, "Data directory", "data")

	fmt.Println("\n--- Access ---")
	a.AdminPassword = prompt(reader, "Admin password", generatedPassword)
	a.Token = prompt(reader, "Default API token", generatedToken)
	a.HistoryLimit = prompt(reader, "History entries to keep", "1000")

	fmt.Println("\n--- Logging ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	content := renderConfig(a)

	if dir := filepath.Dir(outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	// The file holds the admin password and token
	if err := os.WriteFile(outputFile, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if _, err := config.Load(outputFile); err != nil {
		return fmt.Errorf("generated config does not validate: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	green.Printf("  ✓ Config written to %s\n", outputFile)
	fmt.Println()
	yellow.Println("  Keep these safe:")
	fmt.Printf("    Admin password: %s\n", a.AdminPassword)
	fmt.Printf("    API token:      %s\n", a.Token)
	fmt.Println()
	fmt.Println("  To start the server:")
	fmt.Printf("    valueapi serve --config %s\n", outputFile)

	return nil
}

func runToken(ctx context.Context, args []string) error {
	var configPath string
	fs := commandFlags("token", &configPath)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	backend, err := server.OpenBackend(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	registry, err := tokens.New(ctx, backend, tokens.Options{
		BootstrapSecret: cfg.Auth.Token,
		Defaults:        tokens.Settings{HistoryLimit: cfg.History.Limit},
	})
	if err != nil {
		return err
	}

	// A single name prints just the secret, for scripts
	if name := fs.Arg(0); name != "" {
		tok, err := registry.Get(ctx, name)
		if err != nil {
			return err
		}
		fmt.Println(tok.Secret)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTOKEN\tCREATED\tREMARK")
	for _, tok := range registry.List(ctx) {
		created := time.UnixMilli(tok.CreatedAt).Format(time.DateTime)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tok.Name, tok.Secret, created, tok.Remark)
	}
	return w.Flush()
}

func runHashPassword(args []string) error {
	var password string
	fs := pflag.NewFlagSet("valueapi hash-password", pflag.ContinueOnError)
	fs.StringVarP(&password, "password", "p", "", "password to hash (read from stdin when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}

	hash, err := webadmin.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
