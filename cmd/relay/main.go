// Package main starts the relay service and handles termination.
//
// The process hosts the session gate, avatar assignment, and the
// per-session websocket fan-out; message contents stay opaque to it.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	relaycmd "github.com/veilroom/veilroom/internal/cmd/relay"
)

func main() {
	cfg, err := relaycmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[RELAY] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := relaycmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
