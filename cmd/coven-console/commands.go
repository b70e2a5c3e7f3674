// ABOUTME: Operator subcommands for coven-console
// ABOUTME: hash-password, recovery and open work without a running server

package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/skratchdot/open-golang/open"
	"golang.org/x/term"

	"github.com/2389/coven-console/internal/auth"
	"github.com/2389/coven-console/internal/config"
)

// Swapped out in tests.
var (
	copyToClipboard = clipboard.WriteAll
	openBrowser     = open.Run
)

// runHashPassword reads a password and prints a hash for auth.admin_password_hash.
// On a terminal the password is read without echo.
func runHashPassword(stdin *os.File, stdout, stderr io.Writer) error {
	var password string
	if term.IsTerminal(int(stdin.Fd())) {
		fmt.Fprint(stderr, "Password: ")
		raw, err := term.ReadPassword(int(stdin.Fd()))
		fmt.Fprintln(stderr)
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = string(raw)
	} else {
		line, err := readLine(stdin)
		if err != nil {
			return err
		}
		password = line
	}

	return printHash(password, stdout)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printHash(password string, stdout io.Writer) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}

// runRecovery prints the configured recovery passphrase, or copies it to the
// clipboard with --copy.
func runRecovery(args []string, stdout io.Writer) error {
	var copyKey bool
	configPath, err := parseFlags("recovery", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&copyKey, "copy", false, "copy the passphrase to the clipboard instead of printing it")
	})
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Matrix.RecoveryKey == "" {
		return fmt.Errorf("no recovery passphrase configured (set matrix.recovery_key)")
	}

	if copyKey {
		if err := copyToClipboard(cfg.Matrix.RecoveryKey); err != nil {
			return fmt.Errorf("copying to clipboard: %w", err)
		}
		fmt.Fprintln(stdout, "Recovery passphrase copied to clipboard")
		return nil
	}

	fmt.Fprintln(stdout, cfg.Matrix.RecoveryKey)
	return nil
}

// runOpen opens the moderation page in the default browser.
func runOpen(args []string, stdout io.Writer) error {
	configPath, err := parseFlags("open", args, nil)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := strings.TrimRight(cfg.Server.BaseURL, "/") + "/admin/moderation"
	fmt.Fprintf(stdout, "Opening %s\n", url)
	if err := openBrowser(url); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	return nil
}
