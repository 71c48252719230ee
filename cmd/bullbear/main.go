// Command bullbear runs the prediction market. With no subcommand it loads
// configuration, wires dependencies and starts the configured mode.
//
//	bullbear [-config config.toml]
//	bullbear sign -action place_bet -payload '{"game_key":"..."}'
//	bullbear encrypt-key -out keeper.key
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bullbear/internal/app"
	"github.com/alanyoungcy/bullbear/internal/config"
	"github.com/alanyoungcy/bullbear/internal/crypto"
)

func main() {
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "sign":
			err = runSign(os.Args[2:], os.Stdin, os.Stdout)
		case "encrypt-key":
			err = runEncryptKey(os.Args[2:], os.Stdin)
		default:
			runApp()
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
			os.Exit(1)
		}
		return
	}
	runApp()
}

func runApp() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("bullbear starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	// Create the application.
	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run the application.
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error",
			slog.String("error", err.Error()),
		)
		application.Close()
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("bullbear stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// runSign prints a signed envelope for action on target, the request
// method and path it will be sent to. The key comes from -key,
// -key-file or BULLBEAR_KEEPER_PRIVATE_KEY; a payload of "-" is read from
// stdin.
func runSign(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	key := fs.String("key", os.Getenv("BULLBEAR_KEEPER_PRIVATE_KEY"), "hex private key")
	keyFile := fs.String("key-file", "", "encrypted key file")
	password := fs.String("password", os.Getenv("BULLBEAR_KEEPER_KEY_PASSWORD"), "key file password")
	action := fs.String("action", "", "envelope action, e.g. place_bet")
	target := fs.String("target", "", `request method and path, e.g. "POST /api/bets"`)
	payload := fs.String("payload", "{}", "JSON payload, or - for stdin")
	ttl := fs.Duration("ttl", 5*time.Minute, "envelope lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *action == "" || *target == "" {
		return errors.New("-action and -target are required")
	}

	raw := []byte(*payload)
	if *payload == "-" {
		var err error
		if raw, err = io.ReadAll(stdin); err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
	}
	if !json.Valid(raw) {
		return errors.New("payload is not valid JSON")
	}

	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey: *key,
		KeyFile:       *keyFile,
		KeyPassword:   *password,
	})
	if err != nil {
		return err
	}

	env := crypto.Envelope{
		Action:    *action,
		Target:    strings.TrimSpace(*target),
		Nonce:     uuid.NewString(),
		ExpiresAt: time.Now().Add(*ttl).Unix(),
		Payload:   json.RawMessage(strings.TrimSpace(string(raw))),
	}
	if err := signer.Sign(&env); err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// runEncryptKey reads a hex private key from stdin and writes it encrypted
// under BULLBEAR_KEEPER_KEY_PASSWORD (or -password) to -out.
func runEncryptKey(args []string, stdin io.Reader) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	out := fs.String("out", "keeper.key", "output file")
	password := fs.String("password", os.Getenv("BULLBEAR_KEEPER_KEY_PASSWORD"), "encryption password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		return errors.New("a password is required (-password or BULLBEAR_KEEPER_KEY_PASSWORD)")
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read key: %w", err)
	}
	data, err := crypto.EncryptKey(strings.TrimSpace(line), *password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	signer, err := crypto.LoadSigner(crypto.KeyConfig{KeyFile: *out, KeyPassword: *password})
	if err != nil {
		return fmt.Errorf("verify %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s for %s\n", *out, signer.Address())
	return nil
}
