// Command pump-emulator is a protocol-speaking stand-in for a physical
// Accu-Chek Combo pump, standing in for real hardware (a
// main.go that stands in for a physical NFC tag) and minter's -emulator
// flag convention: skip the real hardware, drive the same code paths
// against synthetic data. It speaks the transport+pairing+application
// protocol over a TCP or Unix-domain listener so cmd/pump-pair,
// cmd/pump-rt and cmd/pump-bolus can be exercised without a real pump.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	network := flag.String("network", "tcp", "listener network: tcp or unix")
	address := flag.String("address", "127.0.0.1:5678", "listen address (host:port for tcp, path for unix)")
	pumpID := flag.String("pump-id", "EMULATOR1", "pump ID reported during pairing")
	pin := flag.String("pin", "1234567890", "10-digit pairing PIN the emulator expects")
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

	if len(*pin) != 10 {
		fmt.Fprintf(os.Stderr, "-pin must be exactly 10 digits\n")
		os.Exit(1)
	}
	var pinBytes [10]byte
	copy(pinBytes[:], *pin)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *network == "unix" {
		_ = os.Remove(*address)
	}
	ln, err := net.Listen(*network, *address)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen failed: %v\n", err)
		os.Exit(1)
	}
	defer ln.Close()
	if *network == "unix" {
		defer os.Remove(*address)
	}

	slog.Info("pump-emulator listening", "network", *network, "address", *address, "pump_id", *pumpID)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			slog.Error("accept failed", "error", err)
			return
		}

		st := newPumpState(*pumpID, pinBytes)
		go serve(ctx, conn, st)
	}
}

func newPumpState(pumpID string, pin [10]byte) *pumpState {
	var clientPump, pumpClient [16]byte
	for i := range clientPump {
		clientPump[i] = byte(0x20 + i)
	}
	for i := range pumpClient {
		pumpClient[i] = byte(0x40 + i)
	}
	return &pumpState{
		pumpID:     pumpID,
		pin:        pin,
		keyAddress: 0x12,
		clientPump: clientPump,
		pumpClient: pumpClient,
	}
}
