package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"pullplatypus/pkg/notify"

	"github.com/lib/pq"
)

// riverQueuePublisher inserts notification jobs straight into River's job table,
// so the server does not need a River client of its own.
type riverQueuePublisher struct {
	db  *sql.DB
	cfg RiverQueueConfig
}

func newRiverQueuePublisher(cfg RiverQueueConfig) (*riverQueuePublisher, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("riverqueue dsn is required")
	}
	if cfg.Kind == "" {
		return nil, fmt.Errorf("riverqueue kind is required")
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &riverQueuePublisher{db: db, cfg: cfg}, nil
}

func (p *riverQueuePublisher) Publish(ctx context.Context, topic string, msg notify.AddressedMessage) error {
	args, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(map[string]string{
		"recipient": msg.Recipient,
		"topic":     topic,
	})
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (args, kind, max_attempts, metadata, priority, queue, scheduled_at, tags)
VALUES ($1, $2, $3, $4, $5, $6, now(), $7)`,
		riverTable(p.cfg.Table),
	)

	_, err = p.db.ExecContext(
		ctx,
		query,
		string(args),
		p.cfg.Kind,
		p.cfg.MaxAttempts,
		string(metadata),
		riverPriority(p.cfg.Priority),
		p.cfg.Queue,
		pq.Array(p.cfg.Tags),
	)
	return err
}

func (p *riverQueuePublisher) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *riverQueuePublisher) PublishForDrivers(ctx context.Context, topic string, msg notify.AddressedMessage, drivers []string) error {
	return p.Publish(ctx, topic, msg)
}

func riverTable(table string) string {
	table = strings.TrimSpace(table)
	if table == "" {
		return "river_job"
	}
	return table
}

// River rejects priorities outside 1..4.
func riverPriority(priority int) int {
	if priority < 1 {
		return 1
	}
	if priority > 4 {
		return 4
	}
	return priority
}
