package storage

import (
	"database/sql"
	"time"
)

// Session describes one archived flight session.
type Session struct {
	ID        int64
	StartTime time.Time
	VehicleID string
	Config    *string
	Records   int64
}

// recordRow is the database shape of a telemetry record. Absent sensor
// fields round-trip through SQL NULL so the archive preserves the
// offline-versus-zero distinction.
type recordRow struct {
	SessionID         int64
	Packet            int64
	Timestamp         time.Time
	Phase             string
	Alarms            int64
	Pressure          sql.NullFloat64
	SecondaryPressure sql.NullFloat64
	Altitude          sql.NullFloat64
	SecondaryAltitude sql.NullFloat64
	AltitudeDelta     sql.NullFloat64
	DescentRate       sql.NullFloat64
	Temperature       sql.NullFloat64
	BatteryVoltage    sql.NullFloat64
	GPSLatitude       sql.NullFloat64
	GPSLongitude      sql.NullFloat64
	GPSAltitude       sql.NullFloat64
	GPSSatellites     sql.NullInt64
	Roll              sql.NullFloat64
	Pitch             sql.NullFloat64
	Yaw               sql.NullFloat64
	ServoPosition     sql.NullFloat64
}
