package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pkgbigquery "github.com/accountable/accountable-backend/pkg/bigquery"
	"github.com/accountable/accountable-backend/pkg/config"
)

// Config names the destination tables. A BatchSize above one trades
// durability for fewer streaming inserts: buffered rows are lost if the
// process dies before Flush.
type Config struct {
	PartnershipTable string
	EngagementTable  string
	BatchSize        int
	Retry            Backoff
}

// ConfigFrom maps the BigQuery settings onto a writer config.
func ConfigFrom(cfg config.BigQueryConfig) Config {
	return Config{
		PartnershipTable: cfg.PartnershipEventsTable,
		EngagementTable:  cfg.EngagementEventsTable,
		BatchSize:        cfg.InsertBatchSize,
		Retry:            Backoff{Attempts: cfg.InsertAttempts},
	}
}

// pending buffers rows bound for one table.
type pending[T any] struct {
	table string
	rows  []T
}

func (p *pending[T]) add(row T) int {
	p.rows = append(p.rows, row)
	return len(p.rows)
}

func (p *pending[T]) drain() []any {
	out := make([]any, len(p.rows))
	for i, row := range p.rows {
		out[i] = row
	}
	return out
}

// Writer streams analytics rows into BigQuery. Safe for concurrent use.
type Writer struct {
	inserter  pkgbigquery.RowInserter
	batchSize int
	backoff   Backoff

	mu           sync.Mutex
	partnerships pending[pkgbigquery.PartnershipEventRow]
	engagement   pending[pkgbigquery.EngagementEventRow]
}

func New(inserter pkgbigquery.RowInserter, cfg Config) (*Writer, error) {
	if inserter == nil {
		return nil, errors.New("bigquery client required")
	}
	partnerships := strings.TrimSpace(cfg.PartnershipTable)
	engagement := strings.TrimSpace(cfg.EngagementTable)
	switch {
	case partnerships == "":
		return nil, errors.New("partnership events table is required")
	case engagement == "":
		return nil, errors.New("engagement events table is required")
	}
	return &Writer{
		inserter:     inserter,
		batchSize:    max(cfg.BatchSize, 1),
		backoff:      cfg.Retry.withDefaults(),
		partnerships: pending[pkgbigquery.PartnershipEventRow]{table: partnerships},
		engagement:   pending[pkgbigquery.EngagementEventRow]{table: engagement},
	}, nil
}

func (w *Writer) InsertPartnership(ctx context.Context, row pkgbigquery.PartnershipEventRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.partnerships.add(row) < w.batchSize {
		return nil
	}
	return flush(ctx, w, &w.partnerships)
}

func (w *Writer) InsertEngagement(ctx context.Context, row pkgbigquery.EngagementEventRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.engagement.add(row) < w.batchSize {
		return nil
	}
	return flush(ctx, w, &w.engagement)
}

// Flush writes whatever is buffered for both tables. Rows that fail stay
// buffered for the next attempt.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(
		flush(ctx, w, &w.partnerships),
		flush(ctx, w, &w.engagement),
	)
}

// Buffered reports how many rows are waiting for each table.
func (w *Writer) Buffered() (partnerships, engagement int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.partnerships.rows), len(w.engagement.rows)
}

func flush[T any](ctx context.Context, w *Writer, p *pending[T]) error {
	if len(p.rows) == 0 {
		return nil
	}
	rows := p.drain()
	err := w.backoff.retry(ctx, func(ctx context.Context) error {
		return w.inserter.InsertRows(ctx, p.table, rows)
	})
	if err != nil {
		return fmt.Errorf("insert %d rows into %s: %w", len(rows), p.table, err)
	}
	p.rows = p.rows[:0]
	return nil
}
