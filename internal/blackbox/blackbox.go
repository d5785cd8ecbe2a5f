// Package blackbox persists the telemetry stream to an append-only CSV
// log with size-based rotation, the durable record the ground crew reads
// back after a flight.
package blackbox

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

// Header is the fixed column order of every log file. Absent sensor
// values are written as empty fields so a reader can tell "sensor
// offline" from a zero reading.
var Header = []string{
	"packet", "phase", "alarms", "timestamp",
	"pressure", "secondary_pressure", "altitude", "secondary_altitude",
	"altitude_delta", "descent_rate", "temperature", "battery_voltage",
	"gps_latitude", "gps_longitude", "gps_altitude", "gps_satellites",
	"roll", "pitch", "yaw", "servo_position",
}

const (
	defaultMaxRecords = 10000
	defaultMaxBytes   = 1 << 20
)

// WithLogger sets the logger for the recorder.
func WithLogger(logger *slog.Logger) func(*Recorder) {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithMaxRecords rotates the log after n appended records.
func WithMaxRecords(n int) func(*Recorder) {
	return func(r *Recorder) {
		r.maxRecords = n
	}
}

// WithMaxBytes rotates the log once the file exceeds n bytes.
func WithMaxBytes(n uint64) func(*Recorder) {
	return func(r *Recorder) {
		r.maxBytes = n
	}
}

// WithResume appends to an existing live log instead of backing it up at
// startup. Used after an in-flight reboot so one flight stays in one file.
func WithResume() func(*Recorder) {
	return func(r *Recorder) {
		r.resume = true
	}
}

// Recorder appends telemetry records to a CSV file. Every append is
// flushed to the OS before returning, so a crash loses at most the record
// being written. When the active file crosses the configured thresholds
// it is moved whole into the backup directory and a fresh file with a new
// header is started: no record is lost or duplicated across the boundary.
//
// Recorder is not safe for concurrent use; the pipeline drives it from a
// single consumer goroutine.
type Recorder struct {
	path      string
	backupDir string
	logger    *slog.Logger

	maxRecords int
	maxBytes   uint64
	resume     bool

	file    *os.File
	writer  *csv.Writer
	records int
	bytes   uint64
}

// New opens (or creates) the live log at path, backing up any leftover
// file from a previous flight unless resuming.
func New(path string, options ...func(*Recorder)) (*Recorder, error) {
	r := Recorder{
		path:       path,
		backupDir:  filepath.Join(filepath.Dir(path), "backup"),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxRecords: defaultMaxRecords,
		maxBytes:   defaultMaxBytes,
	}

	for _, option := range options {
		option(&r)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	if !r.resume {
		if _, err := os.Stat(path); err == nil {
			if err := r.backup(); err != nil {
				return nil, fmt.Errorf("backing up previous log: %w", err)
			}
		}
	}

	if err := r.open(); err != nil {
		return nil, err
	}

	return &r, nil
}

// open starts (or continues) the live file, writing the header only when
// the file is empty.
func (r *Recorder) open() error {
	f, err := os.OpenFile(r.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.bytes = uint64(stat.Size())
	r.records = 0

	if stat.Size() == 0 {
		if err := r.writer.Write(Header); err != nil {
			_ = f.Close()
			return fmt.Errorf("writing header: %w", err)
		}
		r.writer.Flush()
		if err := r.writer.Error(); err != nil {
			_ = f.Close()
			return fmt.Errorf("flushing header: %w", err)
		}
	}

	return nil
}

// Append writes one record and flushes it before returning. Errors are
// reported to the caller (which latches a log-write alarm) but leave the
// recorder usable: a later append may succeed once the condition clears.
func (r *Recorder) Append(rec *telemetry.Record) error {
	if r.file == nil {
		if err := r.reopen(); err != nil {
			return fmt.Errorf("reopening log: %w", err)
		}
	}

	row := Row(rec)

	if err := r.writer.Write(row); err != nil {
		return fmt.Errorf("appending record %d: %w", rec.Packet, err)
	}
	r.writer.Flush()
	if err := r.writer.Error(); err != nil {
		return fmt.Errorf("flushing record %d: %w", rec.Packet, err)
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("syncing record %d: %w", rec.Packet, err)
	}

	r.records++
	for _, field := range row {
		r.bytes += uint64(len(field)) + 1
	}

	if r.records >= r.maxRecords || r.bytes >= r.maxBytes {
		if err := r.rotate(); err != nil {
			return fmt.Errorf("rotating log: %w", err)
		}
	}

	return nil
}

// rotate moves the live file to the backup directory and starts a fresh
// one. The record just appended is already durable in the moved file.
func (r *Recorder) rotate() error {
	err := r.file.Close()
	r.file = nil
	r.writer = nil
	if err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}

	if err := r.backup(); err != nil {
		return err
	}

	r.logger.Info("log rotated",
		slog.Int("records", r.records),
		slog.Uint64("bytes", r.bytes))

	return r.open()
}

// reopen re-establishes the live file after a failed rotation, retrying
// the pending backup first. While the backup location stays unwritable
// the existing live file is reopened and appends continue past the
// rotation threshold.
func (r *Recorder) reopen() error {
	if _, err := os.Stat(r.path); err == nil {
		if err := r.backup(); err != nil {
			r.logger.Warn("backup still failing, appending to live file",
				slog.Any("error", err))
		}
	}
	return r.open()
}

func (r *Recorder) backup() error {
	if err := os.MkdirAll(r.backupDir, 0o755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102_150405.000000"), filepath.Base(r.path))
	if err := os.Rename(r.path, filepath.Join(r.backupDir, name)); err != nil {
		return fmt.Errorf("moving log to backup: %w", err)
	}

	return nil
}

// Close flushes and closes the live file. A recorder whose file is
// already closed by a failed rotation closes cleanly.
func (r *Recorder) Close() error {
	if r.file == nil {
		return nil
	}
	r.writer.Flush()
	if err := r.writer.Error(); err != nil {
		_ = r.file.Close()
		return fmt.Errorf("flushing log: %w", err)
	}
	return r.file.Close()
}

// Row renders a record in Header order. Exported so the archive export
// tool produces byte-identical CSV.
func Row(rec *telemetry.Record) []string {
	return []string{
		strconv.FormatUint(uint64(rec.Packet), 10),
		rec.Phase.String(),
		rec.Alarms.String(),
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		formatFloat(rec.Pressure),
		formatFloat(rec.SecondaryPressure),
		formatFloat(rec.Altitude),
		formatFloat(rec.SecondaryAltitude),
		formatFloat(rec.AltitudeDelta),
		formatFloat(rec.DescentRate),
		formatFloat(rec.Temperature),
		formatFloat(rec.BatteryVoltage),
		formatFloat(rec.GPS.Latitude),
		formatFloat(rec.GPS.Longitude),
		formatFloat(rec.GPS.Altitude),
		formatInt(rec.GPS.Satellites),
		formatFloat(rec.Roll),
		formatFloat(rec.Pitch),
		formatFloat(rec.Yaw),
		formatFloat(rec.ServoPosition),
	}
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatInt(i *int64) string {
	if i == nil {
		return ""
	}
	return strconv.FormatInt(*i, 10)
}
