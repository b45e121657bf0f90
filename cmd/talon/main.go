// Command talon downloads a single torrent from one seed peer: parse the
// metainfo file, allocate its storage, connect to the seed, and run until
// the process is interrupted. Completion of the download is logged; it does
// not by itself end the process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talonbt/talon/internal/config"
	"github.com/talonbt/talon/internal/logging"
	"github.com/talonbt/talon/internal/torrent"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "talon:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		metainfoPath = flag.String("metainfo", "", "path to the .torrent metainfo file (required)")
		seedAddr     = flag.String("seed", "", "host:port of the seed peer to download from (required)")
		downloadDir  = flag.String("download-dir", "", "directory to save downloaded files under (default: OS-specific)")
		verbose      = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *metainfoPath == "" || *seedAddr == "" {
		flag.Usage()
		return errors.New("-metainfo and -seed are required")
	}

	log := newLogger(*verbose)

	cfg := config.Default()
	if *downloadDir != "" {
		cfg.DefaultDownloadDir = *downloadDir
	}

	data, err := os.ReadFile(*metainfoPath)
	if err != nil {
		return fmt.Errorf("read metainfo: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", *seedAddr)
	if err != nil {
		return fmt.Errorf("resolve seed address: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := torrent.NewEngine(cfg.ClientID, log)

	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx) }()

	tcfg := torrent.WithDefaultConfig()
	tcfg.DownloadDir = cfg.DefaultDownloadDir
	tcfg.DialTimeout = cfg.DialTimeout
	tcfg.IOTimeout = cfg.ReadTimeout

	t, err := engine.AddTorrent(ctx, data, addr, tcfg)
	if err != nil {
		stop()
		return fmt.Errorf("add torrent: %w", err)
	}

	log.Info("download started", "torrent_id", t.Status().ID, "seed", addr)

	watchProgress(ctx, log, t)

	<-ctx.Done()
	log.Info("shutting down")
	engine.Shutdown()

	select {
	case err := <-engineDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-time.After(10 * time.Second):
		log.Warn("engine did not shut down in time")
	}

	return nil
}

// watchProgress logs torrent alerts and reports completion as they happen,
// without blocking the caller.
func watchProgress(ctx context.Context, log *slog.Logger, t *torrent.Torrent) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case alert, ok := <-t.Alerts():
				if !ok {
					return
				}
				if !alert.Write.IsPieceValid {
					if alert.Write.Err != nil {
						log.Error("piece write failed", "error", alert.Write.Err)
					} else {
						log.Warn("piece failed hash verification")
					}
					continue
				}
				log.Debug("piece written", "blocks", len(alert.Write.Blocks))
				if t.Done() {
					log.Info("download complete")
					return
				}
			}
		}
	}()
}

func newLogger(verbose bool) *slog.Logger {
	opts := logging.DefaultOptions()
	opts.UseColor = true
	if verbose {
		opts.SlogOpts.Level = slog.LevelDebug
	}
	handler := logging.NewPrettyHandler(os.Stderr, &opts)
	return slog.New(handler)
}
