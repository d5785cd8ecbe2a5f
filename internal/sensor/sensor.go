package sensor

import (
	"context"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

// Sample carries the fields a single source produces. Fields that the
// source does not measure, or that failed on this read, stay nil.
type Sample struct {
	Pressure          *float64
	Altitude          *float64
	SecondaryPressure *float64
	SecondaryAltitude *float64
	Temperature       *float64
	Roll              *float64
	Pitch             *float64
	Yaw               *float64
	GPS               telemetry.GPSFix
	BatteryVoltage    *float64
}

// Source is one sensor input. Implementations live outside the core
// pipeline (hardware adapters, simulators) and may block on slow buses;
// each source is read on its own schedule, never on the acquisition tick.
type Source interface {
	// Name identifies the source in logs and error counters.
	Name() string

	// Read performs one measurement. Returning an error marks every field
	// this source contributes absent for subsequent ticks until a read
	// succeeds again.
	Read(ctx context.Context) (Sample, error)
}

// merge copies every non-nil field of s onto the record. Sources are
// configured with disjoint field sets, so later probes never fight
// earlier ones over a populated field.
func merge(rec *telemetry.Record, s Sample) {
	setFloat(&rec.Pressure, s.Pressure)
	setFloat(&rec.Altitude, s.Altitude)
	setFloat(&rec.SecondaryPressure, s.SecondaryPressure)
	setFloat(&rec.SecondaryAltitude, s.SecondaryAltitude)
	setFloat(&rec.Temperature, s.Temperature)
	setFloat(&rec.Roll, s.Roll)
	setFloat(&rec.Pitch, s.Pitch)
	setFloat(&rec.Yaw, s.Yaw)
	setFloat(&rec.GPS.Latitude, s.GPS.Latitude)
	setFloat(&rec.GPS.Longitude, s.GPS.Longitude)
	setFloat(&rec.GPS.Altitude, s.GPS.Altitude)
	if s.GPS.Satellites != nil {
		v := *s.GPS.Satellites
		rec.GPS.Satellites = &v
	}
	setFloat(&rec.BatteryVoltage, s.BatteryVoltage)
}

func setFloat(dst **float64, src *float64) {
	if src != nil {
		v := *src
		*dst = &v
	}
}
