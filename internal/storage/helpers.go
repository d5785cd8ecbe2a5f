package storage

import (
	"database/sql"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && *err == nil && cErr != sql.ErrTxDone {
		*err = cErr
	}
}

func toRecordRow(sessionID int64, rec *telemetry.Record) *recordRow {
	return &recordRow{
		SessionID:         sessionID,
		Packet:            int64(rec.Packet),
		Timestamp:         rec.Timestamp.UTC(),
		Phase:             rec.Phase.String(),
		Alarms:            int64(rec.Alarms),
		Pressure:          nullFloat(rec.Pressure),
		SecondaryPressure: nullFloat(rec.SecondaryPressure),
		Altitude:          nullFloat(rec.Altitude),
		SecondaryAltitude: nullFloat(rec.SecondaryAltitude),
		AltitudeDelta:     nullFloat(rec.AltitudeDelta),
		DescentRate:       nullFloat(rec.DescentRate),
		Temperature:       nullFloat(rec.Temperature),
		BatteryVoltage:    nullFloat(rec.BatteryVoltage),
		GPSLatitude:       nullFloat(rec.GPS.Latitude),
		GPSLongitude:      nullFloat(rec.GPS.Longitude),
		GPSAltitude:       nullFloat(rec.GPS.Altitude),
		GPSSatellites:     nullInt(rec.GPS.Satellites),
		Roll:              nullFloat(rec.Roll),
		Pitch:             nullFloat(rec.Pitch),
		Yaw:               nullFloat(rec.Yaw),
		ServoPosition:     nullFloat(rec.ServoPosition),
	}
}

func fromRecordRow(row *recordRow) *telemetry.Record {
	phase, _ := telemetry.ParsePhase(row.Phase)

	return &telemetry.Record{
		Packet:            uint32(row.Packet),
		Timestamp:         row.Timestamp,
		Phase:             phase,
		Alarms:            telemetry.Alarm(row.Alarms),
		Pressure:          floatPtr(row.Pressure),
		SecondaryPressure: floatPtr(row.SecondaryPressure),
		Altitude:          floatPtr(row.Altitude),
		SecondaryAltitude: floatPtr(row.SecondaryAltitude),
		AltitudeDelta:     floatPtr(row.AltitudeDelta),
		DescentRate:       floatPtr(row.DescentRate),
		Temperature:       floatPtr(row.Temperature),
		BatteryVoltage:    floatPtr(row.BatteryVoltage),
		GPS: telemetry.GPSFix{
			Latitude:   floatPtr(row.GPSLatitude),
			Longitude:  floatPtr(row.GPSLongitude),
			Altitude:   floatPtr(row.GPSAltitude),
			Satellites: intPtr(row.GPSSatellites),
		},
		Roll:          floatPtr(row.Roll),
		Pitch:         floatPtr(row.Pitch),
		Yaw:           floatPtr(row.Yaw),
		ServoPosition: floatPtr(row.ServoPosition),
	}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func intPtr(i sql.NullInt64) *int64 {
	if !i.Valid {
		return nil
	}
	v := i.Int64
	return &v
}
