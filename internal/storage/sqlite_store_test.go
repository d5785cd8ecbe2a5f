package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

func f(v float64) *float64 { return &v }

func testStore(t *testing.T) *SqliteStore {
	t.Helper()
	s := NewSqliteStore(filepath.Join(t.TempDir(), "flight.sqlite"))
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return s
}

func TestSqliteStore_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sessionID, err := s.CreateSession(ctx, "fc-01", `{"seed":42}`)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	sats := int64(8)
	records := []*telemetry.Record{
		{
			Packet:    0,
			Timestamp: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
			Phase:     telemetry.PhaseReadyToFlight,
		},
		{
			Packet:         1,
			Timestamp:      time.Date(2026, 8, 26, 12, 0, 1, 0, time.UTC),
			Phase:          telemetry.PhaseAscent,
			Alarms:         telemetry.AlarmBatteryLow,
			Pressure:       f(95000),
			Altitude:       f(540.5),
			Roll:           f(-2.25),
			GPS:            telemetry.GPSFix{Latitude: f(36.37), Longitude: f(140.47), Altitude: f(570), Satellites: &sats},
			BatteryVoltage: f(3.4),
			ServoPosition:  f(0),
		},
	}

	if err := s.StoreRecords(ctx, sessionID, records); err != nil {
		t.Fatalf("Failed to store records: %v", err)
	}

	reader, err := s.Records(ctx, sessionID)
	if err != nil {
		t.Fatalf("Failed to open reader: %v", err)
	}
	defer reader.Close()

	var got []*telemetry.Record
	for reader.Next() {
		got = append(got, reader.Record())
	}
	if err := reader.Err(); err != nil {
		t.Fatalf("Reader failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Read %d records, want 2", len(got))
	}

	// Absent fields stay absent, not zero.
	if got[0].Pressure != nil {
		t.Errorf("Record 0 pressure = %v, want nil", got[0].Pressure)
	}
	if got[0].GPS.Latitude != nil {
		t.Errorf("Record 0 GPS latitude = %v, want nil", got[0].GPS.Latitude)
	}

	r := got[1]
	if r.Packet != 1 || r.Phase != telemetry.PhaseAscent || !r.Alarms.Has(telemetry.AlarmBatteryLow) {
		t.Errorf("Record 1 header fields wrong: %+v", r)
	}
	if r.Altitude == nil || *r.Altitude != 540.5 {
		t.Errorf("Record 1 altitude = %v, want 540.5", r.Altitude)
	}
	if r.GPS.Satellites == nil || *r.GPS.Satellites != 8 {
		t.Errorf("Record 1 satellites = %v, want 8", r.GPS.Satellites)
	}
	if r.ServoPosition == nil || *r.ServoPosition != 0 {
		t.Errorf("Record 1 servo position = %v, want 0", r.ServoPosition)
	}
	if !r.Timestamp.Equal(records[1].Timestamp) {
		t.Errorf("Record 1 timestamp = %v, want %v", r.Timestamp, records[1].Timestamp)
	}
}

func TestSqliteStore_Sessions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.CreateSession(ctx, "fc-01", nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	second, err := s.CreateSession(ctx, "fc-02", map[string]int{"seed": 7})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if err := s.StoreRecords(ctx, second, []*telemetry.Record{
		{Packet: 0, Timestamp: time.Now().UTC()},
		{Packet: 1, Timestamp: time.Now().UTC()},
	}); err != nil {
		t.Fatalf("Failed to store records: %v", err)
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Listed %d sessions, want 2", len(sessions))
	}

	byID := make(map[int64]*Session)
	for _, sess := range sessions {
		byID[sess.ID] = sess
	}

	if sess := byID[first]; sess == nil || sess.VehicleID != "fc-01" || sess.Records != 0 {
		t.Errorf("Session %d = %+v, want fc-01 with 0 records", first, sess)
	}
	sess := byID[second]
	if sess == nil || sess.VehicleID != "fc-02" || sess.Records != 2 {
		t.Errorf("Session %d = %+v, want fc-02 with 2 records", second, sess)
	}
	if sess != nil && (sess.Config == nil || *sess.Config != `{"seed":7}`) {
		t.Errorf("Session config = %v, want JSON-encoded config", sess.Config)
	}
}

func TestSqliteStore_EmptyBatchIsNoop(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sessionID, err := s.CreateSession(ctx, "fc-01", nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := s.StoreRecords(ctx, sessionID, nil); err != nil {
		t.Errorf("Empty batch failed: %v", err)
	}
}
