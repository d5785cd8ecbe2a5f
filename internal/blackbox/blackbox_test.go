package blackbox

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

func f(v float64) *float64 { return &v }

func record(packet uint32) *telemetry.Record {
	return &telemetry.Record{
		Packet:    packet,
		Phase:     telemetry.PhaseAscent,
		Timestamp: time.Date(2026, 8, 26, 12, 0, int(packet), 0, time.UTC),
		Altitude:  f(float64(packet) * 10),
	}
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log: %v", err)
	}
	defer data.Close()

	rows, err := csv.NewReader(data).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse log: %v", err)
	}
	return rows
}

func TestRecorder_AppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.csv")
	r, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}

	for i := uint32(0); i < 3; i++ {
		if err := r.Append(record(i)); err != nil {
			t.Fatalf("Failed to append record %d: %v", i, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Failed to close recorder: %v", err)
	}

	rows := readRows(t, path)
	if len(rows) != 4 {
		t.Fatalf("Log has %d rows, want header + 3 records", len(rows))
	}
	if rows[0][0] != "packet" {
		t.Errorf("First row = %v, want header", rows[0])
	}
	if rows[1][0] != "0" || rows[3][0] != "2" {
		t.Errorf("Record order wrong: %v ... %v", rows[1][0], rows[3][0])
	}
	// Ascent at 20m with no baro pressure: populated and absent fields.
	if rows[3][6] != "20" {
		t.Errorf("altitude = %q, want 20", rows[3][6])
	}
	if rows[3][4] != "" {
		t.Errorf("pressure = %q, want empty for absent value", rows[3][4])
	}
}

func TestRecorder_RotationLosesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.csv")

	r, err := New(path, WithMaxRecords(4))
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}

	for i := uint32(0); i < 10; i++ {
		if err := r.Append(record(i)); err != nil {
			t.Fatalf("Failed to append record %d: %v", i, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Failed to close recorder: %v", err)
	}

	backups, err := filepath.Glob(filepath.Join(dir, "backup", "*"))
	if err != nil {
		t.Fatalf("Failed to list backups: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("Found %d backup files, want 2", len(backups))
	}

	// Count every record across backups and the live file; each file
	// carries its own header and no packet is lost or duplicated.
	seen := make(map[string]bool)
	for _, p := range append(backups, path) {
		rows := readRows(t, p)
		if len(rows) == 0 || rows[0][0] != "packet" {
			t.Errorf("File %s has no header", p)
			continue
		}
		for _, row := range rows[1:] {
			if seen[row[0]] {
				t.Errorf("Packet %s appears twice", row[0])
			}
			seen[row[0]] = true
		}
	}
	if len(seen) != 10 {
		t.Errorf("Recovered %d records across files, want 10", len(seen))
	}
}

func TestRecorder_RecoversAfterFailedRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.csv")

	// A regular file where the backup directory belongs makes every
	// rotation fail after the live file has been closed.
	blocker := filepath.Join(dir, "backup")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to create blocker: %v", err)
	}

	r, err := New(path, WithMaxRecords(2))
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}

	if err := r.Append(record(0)); err != nil {
		t.Fatalf("Failed to append record 0: %v", err)
	}
	if err := r.Append(record(1)); err == nil {
		t.Fatal("Append succeeded despite unwritable backup directory")
	}

	// The next append reopens the live file and lands on disk even though
	// the backup location is still broken.
	if err := r.Append(record(2)); err != nil {
		t.Fatalf("Append did not recover after failed rotation: %v", err)
	}

	if err := r.Append(record(3)); err == nil {
		t.Fatal("Rotation succeeded despite unwritable backup directory")
	}

	// Once the obstruction clears, the pending rotation completes and a
	// fresh file starts. Nothing written so far is lost.
	if err := os.Remove(blocker); err != nil {
		t.Fatalf("Failed to remove blocker: %v", err)
	}
	if err := r.Append(record(4)); err != nil {
		t.Fatalf("Append failed after backup directory was restored: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Failed to close recorder: %v", err)
	}

	backups, err := filepath.Glob(filepath.Join(dir, "backup", "*"))
	if err != nil {
		t.Fatalf("Failed to list backups: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("Found %d backup files, want 1", len(backups))
	}

	rows := readRows(t, backups[0])
	if len(rows) != 5 {
		t.Fatalf("Backup has %d rows, want header + records 0-3", len(rows))
	}
	for i, want := range []string{"0", "1", "2", "3"} {
		if rows[i+1][0] != want {
			t.Errorf("Backup row %d packet = %q, want %q", i+1, rows[i+1][0], want)
		}
	}

	rows = readRows(t, path)
	if len(rows) != 2 || rows[1][0] != "4" {
		t.Errorf("Live log rows = %d, want header + record 4", len(rows))
	}
}

func TestRecorder_BacksUpLeftoverLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.csv")

	// Leave a log behind from a "previous flight".
	r, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}
	if err := r.Append(record(0)); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	r2, err := New(path)
	if err != nil {
		t.Fatalf("Failed to recreate recorder: %v", err)
	}
	defer r2.Close()

	backups, err := filepath.Glob(filepath.Join(dir, "backup", "*"))
	if err != nil {
		t.Fatalf("Failed to list backups: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("Found %d backup files, want 1", len(backups))
	}

	rows := readRows(t, path)
	if len(rows) != 1 {
		t.Errorf("Fresh log has %d rows, want header only", len(rows))
	}
}

func TestRecorder_ResumeAppendsWithoutSecondHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.csv")

	r, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}
	if err := r.Append(record(0)); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	r2, err := New(path, WithResume())
	if err != nil {
		t.Fatalf("Failed to resume recorder: %v", err)
	}
	if err := r2.Append(record(1)); err != nil {
		t.Fatalf("Failed to append after resume: %v", err)
	}
	if err := r2.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "backup")); !os.IsNotExist(err) {
		t.Error("Resume created a backup of the live log")
	}

	rows := readRows(t, path)
	if len(rows) != 3 {
		t.Fatalf("Resumed log has %d rows, want header + 2 records", len(rows))
	}
	if rows[1][0] != "0" || rows[2][0] != "1" {
		t.Errorf("Resumed log records = %v, %v; want 0, 1", rows[1][0], rows[2][0])
	}
}

func TestRow_AbsentFieldsStayEmpty(t *testing.T) {
	rec := &telemetry.Record{
		Packet:    7,
		Phase:     telemetry.PhaseRecovery,
		Alarms:    telemetry.AlarmBatteryLow | telemetry.AlarmGPSInvalid,
		Timestamp: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
	}

	row := Row(rec)
	if len(row) != len(Header) {
		t.Fatalf("Row has %d fields, header has %d", len(row), len(Header))
	}
	if row[1] != "RECOVERY" {
		t.Errorf("phase = %q, want RECOVERY", row[1])
	}
	if row[2] != "BATTERY_LOW|GPS_INVALID" {
		t.Errorf("alarms = %q, want BATTERY_LOW|GPS_INVALID", row[2])
	}
	for i := 4; i < len(row); i++ {
		if row[i] != "" {
			t.Errorf("%s = %q, want empty", Header[i], row[i])
		}
	}
}
