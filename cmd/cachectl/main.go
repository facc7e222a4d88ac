package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	cachectlcmd "github.com/adscope/adscope/internal/cmd/cachectl"
)

// main runs local media cache maintenance.
func main() {
	cfg, err := cachectlcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[cachectl] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cachectlcmd.Run(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("cachectl: %v", err)
	}
}
