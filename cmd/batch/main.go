package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/app"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/config"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
)

// options are the command-line flags; everything else comes from the
// environment and .env like the syndicator.
type options struct {
	Op           string `long:"op" short:"o" required:"true" choice:"purge" choice:"publish" choice:"validate" choice:"ingest" choice:"seed" description:"Operation to run"`
	FeedID       string `long:"feed" short:"f" description:"Feed id (purge, publish, ingest)"`
	PostID       string `long:"post" short:"p" description:"Publish a single post instead of every pending one"`
	CredentialID string `long:"credential" short:"c" description:"Credential id (validate)"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "batch %s failed: %v\n", opts.Op, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.NewRuntime(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize runtime", "error", err)
		return err
	}
	defer rt.Close()

	result, err := rt.Execute(ctx, app.Request{
		Op:           app.Operation(opts.Op),
		FeedID:       opts.FeedID,
		PostID:       opts.PostID,
		CredentialID: opts.CredentialID,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
