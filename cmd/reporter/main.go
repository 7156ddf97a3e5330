package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"

	"node-reporter/internal/config"
	"node-reporter/internal/reporter"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Printf("load config: %v", err)
		os.Exit(2)
	}

	logger := reporter.BuildLogger(cfg)
	r, err := reporter.New(cfg, logger)
	if err != nil {
		logger.Error("reporter initialization failed", "error", err)
		os.Exit(2)
	}

	if err := r.Run(context.Background()); err != nil {
		os.Exit(1)
	}
}
