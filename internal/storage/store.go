package storage

import (
	"context"

	_ "github.com/mattn/go-sqlite3"
	"github.com/model-satellite/flightcore/internal/telemetry"
)

// Store manages the flight archive: one session per pipeline run, with
// every stamped telemetry record attached to it. Writes are atomic; the
// archive is read back after a flight by the flightdump tool and any
// ground-side analysis.
type Store interface {
	// CreateSession initializes a new flight session and returns its
	// unique identifier. config may be a string, []byte or any
	// JSON-serializable value; it records the effective configuration the
	// flight ran with.
	CreateSession(ctx context.Context, vehicleID string, config any) (sessionID int64, err error)

	// StoreRecords appends a batch of stamped records to the session in a
	// single transaction.
	StoreRecords(ctx context.Context, sessionID int64, records []*telemetry.Record) error

	// Sessions returns all archived sessions ordered by start time.
	Sessions(ctx context.Context) ([]*Session, error)

	// Records opens a streaming reader over one session's records in
	// packet order. The reader must be closed after use.
	Records(ctx context.Context, sessionID int64) (*RecordReader, error)

	// Close releases all database connections. Safe to call more than
	// once.
	Close() error
}
