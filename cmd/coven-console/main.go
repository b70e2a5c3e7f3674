// ABOUTME: Entry point for coven-console, the moderation sign-in console
// ABOUTME: Dispatches serve, hash-password, recovery and open subcommands

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-console/internal/config"
	"github.com/2389/coven-console/internal/console"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __         ___ ___  _ __  ___  ___ | | ___
 / __/ _ \ \ / / _ \ '_ \ _____ / __/ _ \| '_ \/ __|/ _ \| |/ _ \
| (_| (_) \ V /  __/ | | |_____| (_| (_) | | | \__ \ (_) | |  __/
 \___\___/ \_/ \___|_| |_|      \___\___/|_| |_|___/\___/|_|\___|
`

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: coven-console [command] [--config PATH]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve             Start the console server (default)")
	fmt.Fprintln(w, "  hash-password     Read a password from stdin and print its bcrypt hash")
	fmt.Fprintln(w, "  recovery [--copy] Print the recovery passphrase, or copy it to the clipboard")
	fmt.Fprintln(w, "  open              Open the moderation page in the default browser")
	fmt.Fprintln(w, "  version           Print the version")
}

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx, args)
	case "hash-password":
		err = runHashPassword(os.Stdin, os.Stdout, os.Stderr)
	case "recovery":
		err = runRecovery(args, os.Stdout)
	case "open":
		err = runOpen(args, os.Stdout)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses the shared --config flag plus any command flags.
// The config path falls back to config.DefaultPath.
func parseFlags(name string, args []string, extra func(*flag.FlagSet)) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to console config (YAML or TOML)")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() > 0 {
		return "", fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if *configPath == "" {
		return config.DefaultPath(), nil
	}
	return *configPath, nil
}

func runServe(ctx context.Context, args []string) error {
	configPath, err := parseFlags("serve", args, nil)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Console:    ")
	cyan.Printf("%s/admin/moderation\n", cfg.Server.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Moderation: %s\n", cfg.Moderation.InstanceURL)
	green.Print("    ▶ ")
	fmt.Printf("Bot:        %s\n", cfg.Matrix.UserID)
	if cfg.Matrix.RecoveryKey == "" {
		yellow.Print("    ! ")
		fmt.Println("No recovery passphrase configured (matrix.recovery_key)")
	}
	fmt.Println()

	logger.Info("starting coven-console",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"instance_url", cfg.Moderation.InstanceURL,
	)

	c, err := console.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating console: %w", err)
	}

	return c.Run(ctx)
}
