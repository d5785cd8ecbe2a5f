// Package sim provides a simulated actuator for bench runs without drive
// hardware.
package sim

import (
	"math"
	"sync"
)

// Actuator models a position servo that slews toward the commanded angle
// at a fixed rate per feedback poll.
type Actuator struct {
	mu       sync.Mutex
	position float64
	target   float64
	slewRate float64 // degrees per Feedback call
}

// NewActuator creates a simulated actuator at angle zero slewing
// slewRate degrees per feedback poll.
func NewActuator(slewRate float64) *Actuator {
	return &Actuator{slewRate: slewRate}
}

func (a *Actuator) Command(angle float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.target = angle
	return nil
}

func (a *Actuator) Feedback() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	diff := a.target - a.position
	if math.Abs(diff) <= a.slewRate {
		a.position = a.target
	} else {
		a.position += math.Copysign(a.slewRate, diff)
	}
	return a.position, nil
}
