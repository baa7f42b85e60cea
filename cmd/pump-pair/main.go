// Command pump-pair runs the pairing state machine against
// an already Bluetooth-paired RFCOMM endpoint, prompting interactively for
// the pump's 10-digit PIN.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/comboctl/combodrv/internal/config"
	"github.com/comboctl/combodrv/internal/netstream"
	"github.com/comboctl/combodrv/internal/statestore"
	"github.com/comboctl/combodrv/internal/termio"
	"github.com/comboctl/combodrv/pkg/combo/btfacade"
	"github.com/comboctl/combodrv/pkg/combo/pumpio"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	network := flag.String("network", "tcp", "transport network: tcp or unix")
	address := flag.String("address", "", "transport address (overrides config.rfcomm)")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	endpoint := *address
	if endpoint == "" {
		endpoint = cfg.RFCOMM.Address
		if endpoint == "" {
			endpoint = cfg.RFCOMM.DevicePath
		}
	}
	if endpoint == "" {
		log.Fatalf("no transport address: pass -address or set config.rfcomm")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := netstream.Dial(ctx, *network, endpoint)
	if err != nil {
		log.Fatalf("connect to pump failed: %v", err)
	}
	defer stream.Close()

	store, err := statestore.NewFileStore(cfg.State.Dir)
	if err != nil {
		log.Fatalf("open state store failed: %v", err)
	}

	pin := pinCallback(cfg)
	progress := func(stage pumpio.ProgressStage) {
		fmt.Printf("pairing: %s\n", stage)
	}

	pumpID, err := pumpio.Pair(ctx, stream, store, pin, progress)
	if err != nil {
		log.Fatalf("pairing failed: %v", err)
	}

	fmt.Printf("Paired successfully. Pump ID: %s\n", pumpID)
}

// pinCallback builds the PIN source config.Pairing.Source selects: an
// interactive raw-mode prompt, or a PIN read from a file (on every call) for
// scripted/demo use. The real embedding application supplies its own
// btfacade.PINCallback directly; this indirection exists
// only for this CLI.
func pinCallback(cfg *config.Config) btfacade.PINCallback {
	if cfg.Pairing.Source == "file" {
		return func(ctx context.Context, previousFailed bool) ([10]byte, error) {
			var pin [10]byte
			data, err := os.ReadFile(cfg.Pairing.PINFile)
			if err != nil {
				return pin, fmt.Errorf("read pin file: %w", err)
			}
			digits := strings.TrimSpace(string(data))
			if len(digits) != 10 {
				return pin, fmt.Errorf("pin file must contain exactly 10 digits, got %d", len(digits))
			}
			copy(pin[:], digits)
			return pin, nil
		}
	}

	return func(ctx context.Context, previousFailed bool) ([10]byte, error) {
		if previousFailed {
			fmt.Println("Incorrect PIN, please try again.")
		}
		prompt := "Enter the pump's 10-digit pairing PIN:"
		digits, err := termio.ReadPIN(prompt)
		if err != nil {
			return digits, err
		}
		return digits, nil
	}
}
