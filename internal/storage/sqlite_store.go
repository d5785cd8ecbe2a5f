package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

// Compile-time assertion that SqliteStore implements Store.
var _ Store = (*SqliteStore)(nil)

// SqliteStore is the sqlite-backed flight archive. Write and read sides
// use separate lazily-opened connections: the pipeline writes through a
// WAL-mode connection while post-flight tools read through a read-only
// one.
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates an archive at dbPath. Connections open lazily on
// first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateSession(ctx context.Context, vehicleID string, config any) (sessionID int64, err error) {
	var configData sql.NullString

	if config != nil {
		switch v := config.(type) {
		case string:
			configData.Valid = true
			configData.String = v

		case []byte:
			configData.Valid = true
			configData.String = string(v)

		default:
			var p []byte
			if p, err = json.Marshal(config); err != nil {
				err = fmt.Errorf("marshaling config: %w", err)
				return
			}

			configData.Valid = true
			configData.String = string(p)
		}
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, vehicleID, configData)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	sessionID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
	}
	return
}

func (s *SqliteStore) StoreRecords(ctx context.Context, sessionID int64, records []*telemetry.Record) (err error) {
	if len(records) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	const columns = 21
	values := make([]any, 0, len(records)*columns)

	var sb strings.Builder
	sb.WriteString(insertRecordSQL)

	for i, rec := range records {
		row := toRecordRow(sessionID, rec)
		values = append(values,
			row.SessionID,
			row.Packet,
			row.Timestamp,
			row.Phase,
			row.Alarms,
			row.Pressure,
			row.SecondaryPressure,
			row.Altitude,
			row.SecondaryAltitude,
			row.AltitudeDelta,
			row.DescentRate,
			row.Temperature,
			row.BatteryVoltage,
			row.GPSLatitude,
			row.GPSLongitude,
			row.GPSAltitude,
			row.GPSSatellites,
			row.Roll,
			row.Pitch,
			row.Yaw,
			row.ServoPosition,
		)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	}

	if _, err = tx.ExecContext(ctx, sb.String(), values...); err != nil {
		return fmt.Errorf("batch inserting records: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sess Session
		var config sql.NullString
		if err = rows.Scan(&sess.ID, &sess.StartTime, &sess.VehicleID, &config, &sess.Records); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		if config.Valid {
			sess.Config = &config.String
		}
		sessions = append(sessions, &sess)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating sessions: %w", err)
	}
	return
}

// Records opens a streaming reader over one session's records in packet
// order.
func (s *SqliteStore) Records(ctx context.Context, sessionID int64) (*RecordReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectRecordsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}

	return &RecordReader{rows: rows}, nil
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}

// RecordReader iterates one session's records. Use like bufio.Scanner:
//
//	for reader.Next() {
//	    rec := reader.Record()
//	    ...
//	}
//	if err := reader.Err(); err != nil { ... }
//
// Each reader instance must be used from a single goroutine and closed
// after use.
type RecordReader struct {
	rows    *sql.Rows
	current *telemetry.Record
	err     error
}

// Next advances to the next record, reporting false at the end of the
// session or on error.
func (r *RecordReader) Next() bool {
	if r.err != nil || !r.rows.Next() {
		r.err = r.rows.Err()
		return false
	}

	var row recordRow
	if err := r.rows.Scan(
		&row.Packet,
		&row.Timestamp,
		&row.Phase,
		&row.Alarms,
		&row.Pressure,
		&row.SecondaryPressure,
		&row.Altitude,
		&row.SecondaryAltitude,
		&row.AltitudeDelta,
		&row.DescentRate,
		&row.Temperature,
		&row.BatteryVoltage,
		&row.GPSLatitude,
		&row.GPSLongitude,
		&row.GPSAltitude,
		&row.GPSSatellites,
		&row.Roll,
		&row.Pitch,
		&row.Yaw,
		&row.ServoPosition,
	); err != nil {
		r.err = fmt.Errorf("scanning record: %w", err)
		return false
	}

	r.current = fromRecordRow(&row)
	return true
}

// Record returns the record read by the last successful Next.
func (r *RecordReader) Record() *telemetry.Record {
	return r.current
}

// Err returns the first error encountered during iteration.
func (r *RecordReader) Err() error {
	return r.err
}

// Close releases the underlying query resources.
func (r *RecordReader) Close() error {
	return r.rows.Close()
}
