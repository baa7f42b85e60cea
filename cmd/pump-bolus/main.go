// Command pump-bolus connects to an already-paired pump in command mode
// and delivers a standard bolus, following the flag/slog CLI idiom of the
// teacher's minter and reset binaries.
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
	amount := flag.Float64("units", 0, "bolus amount in insulin units (required, > 0)")
	history := flag.Bool("history", false, "read and print the pump's history delta instead of delivering a bolus")
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
	if !*history && *amount <= 0 {
		log.Fatalf("-units must be > 0 (or pass -history)")
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
	if err := p.Connect(ctx, pumpio.ModeCommand, true); err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer p.Disconnect(context.Background())

	if *history {
		runHistory(ctx, p)
		return
	}
	runBolus(ctx, p, *amount)
}

func runBolus(ctx context.Context, p *pumpio.PumpIO, units float64) {
	deciUnits := uint16(units * 10)

	status, err := p.ReadPumpStatus(ctx)
	if err != nil {
		log.Fatalf("read pump status failed: %v", err)
	}
	if status.Suspended {
		log.Fatalf("refusing to deliver: pump is suspended")
	}

	fmt.Printf("Delivering standard bolus: %.1f units\n", units)
	if err := p.DeliverBolus(ctx, app.BolusStandard, deciUnits, 0); err != nil {
		log.Fatalf("deliver bolus failed: %v", err)
	}
	fmt.Println("Bolus delivered.")
}

func runHistory(ctx context.Context, p *pumpio.PumpIO) {
	events, stats, err := p.ReadHistory(ctx, app.MinMaxRequests)
	if err != nil {
		log.Fatalf("read history failed: %v", err)
	}
	fmt.Printf("Read %d history events (%d blocks requested, %d retried)\n",
		len(events), stats.BlocksRequested, stats.BlocksRetried)
	for _, ev := range events {
		fmt.Printf("  event %d: %d bytes\n", ev.EventID, len(ev.EventData))
	}
}
