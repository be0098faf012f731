package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/swarmhub/internal/apikey"
	"github.com/mtzanidakis/swarmhub/internal/config"
	"github.com/mtzanidakis/swarmhub/internal/memstore"
	"github.com/mtzanidakis/swarmhub/internal/natsbus"
	"github.com/mtzanidakis/swarmhub/internal/registry"
	"github.com/mtzanidakis/swarmhub/internal/store"
	"github.com/mtzanidakis/swarmhub/internal/swarm"
	"github.com/mtzanidakis/swarmhub/internal/sweeper"
	"github.com/mtzanidakis/swarmhub/internal/telegram"
	"github.com/mtzanidakis/swarmhub/internal/web"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("swarmhub %s\n", version)
		return
	case "serve":
		err = runServe(os.Args[2:])
	case "watch":
		err = runWatch(os.Args[2:], os.Stdout)
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: swarmhub <command> [flags]

Commands:
  serve      Start the SwarmHub service
  watch      Stream swarm events from a running service
  backup     Write a compressed snapshot of the database
  restore    Restore a database snapshot
  version    Print version
`)
}

func runServe(args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	memory := fs.Bool("memory", false, "keep all state in memory (nothing is persisted)")
	fs.Usage = usageFor(os.Stderr, fs, "serve [--memory]")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting swarmhub", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(cfg.Store, *memory)
	if err != nil {
		return err
	}
	defer closeRepo()

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "url", bus.ClientURL())

	nc, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()
	events := natsbus.NewEventPublisher(nc)

	if cfg.Auth.Pepper == "" {
		slog.Warn("auth.pepper not set, API key hashes are unpeppered")
	}
	engine := swarm.New(repo,
		swarm.WithPublisher(events),
		swarm.WithShareCap(cfg.Swarm.ShareCap),
	)
	reg := registry.New(repo, apikey.New(cfg.Auth.Pepper), registry.WithPublisher(events))

	var bot *telegram.Bot
	if cfg.Telegram.Token != "" {
		bot, err = telegram.NewBot(cfg.Telegram, engine, reg, nc)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	var srv *web.Server
	if cfg.Web.Enabled {
		srv, err = web.NewServer(engine, reg, nc, cfg.Web, version)
		if err != nil {
			return fmt.Errorf("init web server: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	if cfg.Sweeper.Enabled {
		sw := sweeper.New(engine, cfg.Sweeper)
		g.Go(func() error { return sw.Start(ctx) })
	} else {
		slog.Warn("sweeper disabled, overdue swarms will not fail")
	}
	if bot != nil {
		g.Go(func() error { return bot.Start(ctx) })
	}
	if srv != nil {
		g.Go(func() error { return srv.Start(ctx) })
	}

	err = g.Wait()
	slog.Info("shutting down")
	return err
}

// openRepository returns the SQLite store, or an in-memory one when memory
// is set.
func openRepository(cfg config.StoreConfig, memory bool) (swarm.Repository, func(), error) {
	if memory {
		slog.Warn("running with in-memory state, nothing will be persisted")
		return memstore.New(), func() {}, nil
	}
	db, err := store.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	slog.Info("store initialized", "path", cfg.Path)
	return db, func() { _ = db.Close() }, nil
}

func usageFor(w io.Writer, fs *pflag.FlagSet, synopsis string) func() {
	return func() {
		fmt.Fprintf(w, "Usage: swarmhub %s\n\n", synopsis)
		fs.SetOutput(w)
		fs.PrintDefaults()
	}
}
