// Package sim provides simulated sensor sources for bench testing the
// pipeline without flight hardware. The generators reproduce a plausible
// flight profile: stochastic ascent to apogee followed by a parachute
// descent back to ground level.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/model-satellite/flightcore/internal/sensor"
	"github.com/model-satellite/flightcore/internal/telemetry"
)

// Barometric conversion constants for the standard atmosphere model.
const (
	altScale    = 44307.7  // m
	altExponent = 0.190284 // pressure ratio exponent
	seaLevelPa  = 101325.0 // Pa
)

func pressureAt(altitude float64) float64 {
	return seaLevelPa * math.Pow(1-altitude/altScale, 1/altExponent)
}

// flight is the shared altitude walk used by both barometers.
type flight struct {
	mu         sync.Mutex
	rng        *rand.Rand
	altitude   float64
	apogee     float64
	descending bool
}

func newFlight(apogee float64, seed int64) *flight {
	return &flight{
		rng:    rand.New(rand.NewSource(seed)),
		apogee: apogee,
	}
}

// step advances the walk one read: climb in uneven bursts until apogee,
// then sink back toward the ground and stay there.
func (f *flight) step() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.descending {
		f.altitude += 20 + f.rng.Float64()*20
		if f.altitude >= f.apogee {
			f.descending = true
		}
	} else {
		f.altitude = math.Max(0, f.altitude-(25+f.rng.Float64()*10))
	}
	return f.altitude
}

// Barometer simulates the payload pressure/altitude sensor.
type Barometer struct {
	name   string
	flight *flight
}

// NewBarometer creates a simulated payload barometer that flies to apogee
// meters before descending.
func NewBarometer(name string, apogee float64, seed int64) *Barometer {
	return &Barometer{name: name, flight: newFlight(apogee, seed)}
}

func (b *Barometer) Name() string { return b.name }

func (b *Barometer) Read(_ context.Context) (sensor.Sample, error) {
	alt := b.flight.step()
	p := pressureAt(alt)
	return sensor.Sample{Pressure: &p, Altitude: &alt}, nil
}

// Thermometer simulates the payload temperature sensor with a slow walk
// around a baseline.
type Thermometer struct {
	name string

	mu   sync.Mutex
	rng  *rand.Rand
	temp float64
}

// NewThermometer creates a simulated thermometer starting at baseline
// degrees C.
func NewThermometer(name string, baseline float64, seed int64) *Thermometer {
	return &Thermometer{
		name: name,
		rng:  rand.New(rand.NewSource(seed)),
		temp: baseline,
	}
}

func (t *Thermometer) Name() string { return t.name }

func (t *Thermometer) Read(_ context.Context) (sensor.Sample, error) {
	t.mu.Lock()
	t.temp += t.rng.Float64() - 0.5
	v := t.temp
	t.mu.Unlock()
	return sensor.Sample{Temperature: &v}, nil
}

// IMU simulates the orientation sensor as a damped random walk.
type IMU struct {
	name string

	mu               sync.Mutex
	rng              *rand.Rand
	roll, pitch, yaw float64
}

// NewIMU creates a simulated inertial orientation source.
func NewIMU(name string, seed int64) *IMU {
	return &IMU{name: name, rng: rand.New(rand.NewSource(seed))}
}

func (i *IMU) Name() string { return i.name }

func (i *IMU) Read(_ context.Context) (sensor.Sample, error) {
	i.mu.Lock()
	i.roll = i.roll*0.9 + (i.rng.Float64()-0.5)*10
	i.pitch = i.pitch*0.9 + (i.rng.Float64()-0.5)*10
	i.yaw = math.Mod(i.yaw+(i.rng.Float64()-0.5)*5, 360)
	roll, pitch, yaw := i.roll, i.pitch, i.yaw
	i.mu.Unlock()
	return sensor.Sample{Roll: &roll, Pitch: &pitch, Yaw: &yaw}, nil
}

// CarrierBoard simulates the carrier board over the serial link: its own
// barometer, the GPS receiver and the battery monitor.
type CarrierBoard struct {
	name   string
	flight *flight

	mu       sync.Mutex
	rng      *rand.Rand
	battery  float64
	lat, lon float64
}

// NewCarrierBoard creates a simulated carrier board near the given launch
// coordinates. Its altitude track lags the payload one by the separation
// dynamics, which is approximated with an independent walk.
func NewCarrierBoard(name string, apogee, lat, lon float64, seed int64) *CarrierBoard {
	return &CarrierBoard{
		name:    name,
		flight:  newFlight(apogee, seed),
		rng:     rand.New(rand.NewSource(seed + 1)),
		battery: 4.2,
		lat:     lat,
		lon:     lon,
	}
}

func (c *CarrierBoard) Name() string { return c.name }

func (c *CarrierBoard) Read(_ context.Context) (sensor.Sample, error) {
	alt := c.flight.step()
	p := pressureAt(alt)

	c.mu.Lock()
	c.battery = math.Max(3.0, c.battery-0.0005)
	battery := c.battery
	lat := c.lat + (c.rng.Float64()-0.5)*1e-4
	lon := c.lon + (c.rng.Float64()-0.5)*1e-4
	c.mu.Unlock()

	gpsAlt := alt + (c.rng.Float64()-0.5)*5
	sats := int64(7 + c.rng.Intn(5))

	return sensor.Sample{
		SecondaryPressure: &p,
		SecondaryAltitude: &alt,
		BatteryVoltage:    &battery,
		GPS: telemetry.GPSFix{
			Latitude:   &lat,
			Longitude:  &lon,
			Altitude:   &gpsAlt,
			Satellites: &sats,
		},
	}, nil
}
