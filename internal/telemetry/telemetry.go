package telemetry

import (
	"strings"
	"time"
)

// Phase is the derived mission phase. Phases are strictly forward-only:
// once the vehicle has entered a phase it never returns to an earlier one.
type Phase uint8

const (
	PhaseReadyToFlight Phase = iota
	PhaseAscent
	PhaseDescent
	PhaseRelease
	PhaseRecovery
)

var phaseNames = [...]string{
	PhaseReadyToFlight: "READY_TO_FLIGHT",
	PhaseAscent:        "ASCENT",
	PhaseDescent:       "DESCENT",
	PhaseRelease:       "RELEASE",
	PhaseRecovery:      "RECOVERY",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "UNKNOWN"
}

// ParsePhase maps a phase name back onto its Phase value.
func ParsePhase(name string) (Phase, bool) {
	for i, n := range phaseNames {
		if n == name {
			return Phase(i), true
		}
	}
	return 0, false
}

// Alarm is a bitfield of mission alarms. Bits are sticky: once raised they
// stay set on every subsequent record until an explicit operator reset,
// even if the triggering condition has cleared.
type Alarm uint16

const (
	AlarmSensorDegraded Alarm = 1 << iota
	AlarmBatteryLow
	AlarmOrientationRange
	AlarmGPSInvalid
	AlarmDescentRate
	AlarmLogWrite
	AlarmServoFault
)

var alarmNames = map[Alarm]string{
	AlarmSensorDegraded:   "SENSOR_DEGRADED",
	AlarmBatteryLow:       "BATTERY_LOW",
	AlarmOrientationRange: "ORIENTATION_RANGE",
	AlarmGPSInvalid:       "GPS_INVALID",
	AlarmDescentRate:      "DESCENT_RATE",
	AlarmLogWrite:         "LOG_WRITE",
	AlarmServoFault:       "SERVO_FAULT",
}

// Has reports whether every bit of b is set in a.
func (a Alarm) Has(b Alarm) bool {
	return a&b == b
}

func (a Alarm) String() string {
	if a == 0 {
		return "NONE"
	}

	var parts []string
	for bit := Alarm(1); bit != 0 && bit <= a; bit <<= 1 {
		if a.Has(bit) {
			if name, ok := alarmNames[bit]; ok {
				parts = append(parts, name)
			}
		}
	}
	return strings.Join(parts, "|")
}

// GPSFix is the GPS solution reported by the power/GPS board. All fields
// are optional: a nil pointer means the receiver reported no fix for that
// component, never a true zero reading.
type GPSFix struct {
	Latitude   *float64 `json:"latitude"`   // degrees
	Longitude  *float64 `json:"longitude"`  // degrees
	Altitude   *float64 `json:"altitude"`   // meters above MSL
	Satellites *int64   `json:"satellites"` // satellites used in solution
}

// Record is one merged snapshot of all sensor fields plus derived mission
// state. Optional sensor fields are pointers; nil marks the value absent
// (sensor offline or faulted), which downstream consumers must keep
// distinguishable from a genuine zero reading. JSON output therefore emits
// explicit nulls rather than omitting keys, so the wire field order and
// set of keys is stable across records.
//
// A record is immutable once it has been stamped with a packet number and
// run through the mission state machine; Logger, Broadcaster and the
// archive hold read-only views.
type Record struct {
	Packet    uint32    `json:"packet"`
	Timestamp time.Time `json:"timestamp"`
	Phase     Phase     `json:"phase"`
	Alarms    Alarm     `json:"alarms"`

	Pressure          *float64 `json:"pressure"`          // Pa, payload barometer
	Altitude          *float64 `json:"altitude"`          // m, payload barometer
	SecondaryPressure *float64 `json:"secondaryPressure"` // Pa, carrier board barometer
	SecondaryAltitude *float64 `json:"secondaryAltitude"` // m, carrier board barometer
	AltitudeDelta     *float64 `json:"altitudeDelta"`     // m, payload/carrier separation
	DescentRate       *float64 `json:"descentRate"`       // m/s, negative while falling
	Temperature       *float64 `json:"temperature"`       // degrees C
	Roll              *float64 `json:"roll"`              // degrees
	Pitch             *float64 `json:"pitch"`             // degrees
	Yaw               *float64 `json:"yaw"`               // degrees
	GPS               GPSFix   `json:"gps"`
	BatteryVoltage    *float64 `json:"batteryVoltage"` // V
	ServoPosition     *float64 `json:"servoPosition"`  // degrees, actuator feedback
}

// Clone returns a deep copy of the record, for consumers that must retain
// one beyond the current delivery without aliasing the original.
func (r *Record) Clone() *Record {
	c := *r
	c.Pressure = cloneFloat(r.Pressure)
	c.Altitude = cloneFloat(r.Altitude)
	c.SecondaryPressure = cloneFloat(r.SecondaryPressure)
	c.SecondaryAltitude = cloneFloat(r.SecondaryAltitude)
	c.AltitudeDelta = cloneFloat(r.AltitudeDelta)
	c.DescentRate = cloneFloat(r.DescentRate)
	c.Temperature = cloneFloat(r.Temperature)
	c.Roll = cloneFloat(r.Roll)
	c.Pitch = cloneFloat(r.Pitch)
	c.Yaw = cloneFloat(r.Yaw)
	c.GPS.Latitude = cloneFloat(r.GPS.Latitude)
	c.GPS.Longitude = cloneFloat(r.GPS.Longitude)
	c.GPS.Altitude = cloneFloat(r.GPS.Altitude)
	if r.GPS.Satellites != nil {
		v := *r.GPS.Satellites
		c.GPS.Satellites = &v
	}
	c.BatteryVoltage = cloneFloat(r.BatteryVoltage)
	c.ServoPosition = cloneFloat(r.ServoPosition)
	return &c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
