package sink

import (
	"context"
	"fmt"

	"example.com/deskactivity/internal/events"
	"example.com/deskactivity/internal/observability"
	"example.com/deskactivity/internal/persistence"
)

// StoreConfig selects the embedded store backing a StoreCommitter.
type StoreConfig struct {
	Driver string
	DSN    string
}

// StoreCommitter writes batches into the local event store.
type StoreCommitter struct {
	cfg   StoreConfig
	store *persistence.Store
}

// NewStoreCommitter constructs a committer that opens the store lazily.
func NewStoreCommitter(cfg StoreConfig) *StoreCommitter {
	return &StoreCommitter{cfg: cfg}
}

// Open connects to the store and ensures the schema exists.
func (s *StoreCommitter) Open(ctx context.Context) error {
	store, err := persistence.Open(ctx, s.cfg.Driver, s.cfg.DSN)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return fmt.Errorf("prepare store: %w", err)
	}
	s.store = store
	return nil
}

// Commit inserts batch in a single transaction; duplicates are ignored.
func (s *StoreCommitter) Commit(ctx context.Context, batch []events.ActivityEvent) error {
	if s.store == nil {
		return ErrNotConnected
	}
	if err := s.store.InsertBatch(ctx, batch); err != nil {
		return err
	}
	if len(batch) > 0 {
		observability.RecordEventStored(batch[len(batch)-1].Timestamp)
	}
	return nil
}

// Close releases the store.
func (s *StoreCommitter) Close() error {
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}
