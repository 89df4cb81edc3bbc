package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"timeline_sync/internal/broker"
	"timeline_sync/internal/config"
	"timeline_sync/internal/domain"
	"timeline_sync/internal/service"
	"timeline_sync/internal/storage/postgres"
)

const version = "0.1.0"

const usage = `Timeline control.

Usage:
    timelinectl add [--config=<path>] --id=<id> --owner=<owner>
        [--origin=<origin>] [--author=<author>] [--text=<text>]
    timelinectl delete [--config=<path>] --id=<id>
    timelinectl remove [--config=<path>] --id=<id> [--failed]
    timelinectl revoke [--config=<path>] --id=<id> [--still-related]
    timelinectl mark [--config=<path>] --id=<id>

Options:
    -h --help           Show this screen.
    --version           Show version.
    --config=<path>     Config file [default: config.yaml].
    --id=<id>           Entry id.
    --owner=<owner>     Owner id of the stored entry.
    --origin=<origin>   Id of the re-shared entry.
    --author=<author>   Entry author.
    --text=<text>       Entry text.
    --failed            Announce the removal as failed.
    --still-related     The relationship still holds.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	configPath, _ := opts.String("--config")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, cfg, logger, opts); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts docopt.Opts) error {
	id, err := positiveID(opts, "--id")
	if err != nil {
		return err
	}

	if add, _ := opts.Bool("add"); add {
		return addEntry(ctx, cfg, opts, id)
	} else if del, _ := opts.Bool("delete"); del {
		return deleteEntry(ctx, cfg, logger, id)
	} else if remove, _ := opts.Bool("remove"); remove {
		failed, _ := opts.Bool("--failed")
		return publish(ctx, cfg, logger, domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: id, Flag: !failed})
	} else if revoke, _ := opts.Bool("revoke"); revoke {
		stillRelated, _ := opts.Bool("--still-related")
		return publish(ctx, cfg, logger, domain.RemovalEvent{Kind: domain.EventRelationshipRevoked, TargetID: id, Flag: stillRelated})
	} else if mark, _ := opts.Bool("mark"); mark {
		return withDB(cfg, func(db *sqlx.DB) error {
			loader := service.NewLoader(
				postgres.NewEntryStore(db),
				postgres.NewPositionStore(db),
				postgres.NewTransactionManager(db, nil),
				logger,
				cfg.Timeline,
			)
			return loader.RecordPosition(ctx, id)
		})
	}
	return errors.New("no command given")
}

func addEntry(ctx context.Context, cfg *config.Config, opts docopt.Opts, id int64) error {
	entry, err := buildEntry(opts, id)
	if err != nil {
		return err
	}

	return withDB(cfg, func(db *sqlx.DB) error {
		return postgres.NewEntryStore(db).Upsert(ctx, &entry)
	})
}

func buildEntry(opts docopt.Opts, id int64) (domain.Entry, error) {
	owner, err := positiveID(opts, "--owner")
	if err != nil {
		return domain.Entry{}, err
	}

	entry := domain.Entry{ID: id, OwnerID: owner, CreatedAt: time.Now().UTC()}
	entry.Author, _ = opts.String("--author")
	entry.Text, _ = opts.String("--text")

	// --origin is optional, but a malformed value must not store a plain entry.
	if opts["--origin"] != nil {
		origin, err := positiveID(opts, "--origin")
		if err != nil {
			return domain.Entry{}, err
		}
		entry.OriginID = &origin
	}
	return entry, nil
}

func deleteEntry(ctx context.Context, cfg *config.Config, logger *slog.Logger, id int64) error {
	var removed int64
	err := withDB(cfg, func(db *sqlx.DB) error {
		var err error
		removed, err = postgres.NewEntryStore(db).Delete(ctx, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	fmt.Printf("deleted %d rows\n", removed)

	return publish(ctx, cfg, logger, domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: id, Flag: true})
}

func positiveID(opts docopt.Opts, key string) (int64, error) {
	v, err := opts.Int(key)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return int64(v), nil
}

func withDB(cfg *config.Config, fn func(db *sqlx.DB) error) error {
	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	return fn(db)
}

func publish(ctx context.Context, cfg *config.Config, logger *slog.Logger, ev domain.RemovalEvent) error {
	pub, err := broker.NewPublisher(broker.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
	}, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	return pub.Publish(ctx, ev)
}
