// Command pump-rt is an interactive remote-terminal demo: it connects to
// an already-paired pump, switches into RT mode, and lets the operator
// drive the pump's buttons with the arrow keys, printing a coarse ASCII
// rendering of each display frame as it arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/comboctl/combodrv/internal/config"
	"github.com/comboctl/combodrv/internal/netstream"
	"github.com/comboctl/combodrv/internal/statestore"
	"github.com/comboctl/combodrv/pkg/combo/app"
	"github.com/comboctl/combodrv/pkg/combo/pumpio"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	network := flag.String("network", "tcp", "transport network: tcp or unix")
	address := flag.String("address", "", "transport address (overrides config.rfcomm)")
	pumpID := flag.String("pump-id", "", "paired pump ID (required)")
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

	if *pumpID == "" {
		log.Fatalf("-pump-id is required")
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

	p := pumpio.New(stream, store, *pumpID)
	if err := p.Connect(ctx, pumpio.ModeRemoteTerminal, true); err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer p.Disconnect(context.Background())

	fmt.Println("Connected in remote-terminal mode.")
	fmt.Println("Arrow keys: navigate. Enter: check. Esc or Ctrl-C: quit.")

	go renderDisplayFrames(p)

	if err := runButtonLoop(ctx, p); err != nil {
		log.Fatalf("button loop failed: %v", err)
	}
}

// renderDisplayFrames prints a coarse character rendering of every
// completed RT display frame, halving resolution so it fits an 80-column
// terminal (96 wide source pixels -> 48 columns).
func renderDisplayFrames(p *pumpio.PumpIO) {
	for f := range p.DisplayFrames() {
		fmt.Print("\033[2J\033[H") // clear screen, home cursor
		for y := 0; y < app.DisplayHeight; y += 2 {
			for x := 0; x < app.DisplayWidth; x += 2 {
				if f.Get(x, y) {
					fmt.Print("#")
				} else {
					fmt.Print(" ")
				}
			}
			fmt.Println()
		}
	}
}

// runButtonLoop reads raw key presses and maps them onto RT button
// presses using the usual MakeRaw/Restore/arrow-key-escape-sequence
// handling.
func runButtonLoop(ctx context.Context, p *pumpio.PumpIO) error {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return err
		}

		var button app.Button
		switch {
		case n == 1 && buf[0] == 0x03: // Ctrl-C
			return nil
		case n == 1 && buf[0] == 0x1B: // Esc (no escape sequence follows)
			return nil
		case n == 1 && (buf[0] == 0x0D || buf[0] == 0x0A): // Enter
			button = app.ButtonCheck
		case n == 1 && buf[0] == ' ':
			button = app.ButtonMenu
		case n == 3 && buf[0] == 0x1B && buf[1] == '[':
			switch buf[2] {
			case 'A':
				button = app.ButtonUp
			case 'B':
				button = app.ButtonDown
			default:
				continue
			}
		default:
			continue
		}

		if err := p.PressButtonShort(ctx, button); err != nil {
			term.Restore(fd, oldState)
			return fmt.Errorf("press button: %w", err)
		}
	}
}
