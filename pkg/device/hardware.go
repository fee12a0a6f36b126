// SPDX-License-Identifier: Apache-2.0

package device

import (
	"sync"

	"github.com/steffenpharai/zipbridge/pkg/drive"
)

// Motor receives shaped PWM pairs from the control tick. The safety
// layer output is the only value that ever reaches an implementation.
type Motor interface {
	Set(pair drive.PwmPair)
	Stop()
}

// Servo positions the auxiliary pan servo
type Servo interface {
	SetAngle(degrees int)
}

// Sensors exposes the slow sensor bank. Implementations must be safe
// to read from the device goroutine while test code mutates them.
type Sensors interface {
	DistanceCm() int
	Line(channel int) int
	BatteryMillivolts() int
}

// SimMotor records motor commands for tests and the loopback
// simulator.
type SimMotor struct {
	mu      sync.Mutex
	current drive.PwmPair
	history []drive.PwmPair
}

// NewSimMotor creates a simulated motor driver
func NewSimMotor() *SimMotor {
	return &SimMotor{}
}

// Set applies a PWM pair
func (m *SimMotor) Set(pair drive.PwmPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = pair
	m.history = append(m.history, pair)
}

// Stop zeroes both channels immediately
func (m *SimMotor) Stop() {
	m.Set(drive.PwmPair{})
}

// Current returns the last applied PWM pair
func (m *SimMotor) Current() drive.PwmPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns a copy of all applied PWM pairs
func (m *SimMotor) History() []drive.PwmPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]drive.PwmPair, len(m.history))
	copy(out, m.history)
	return out
}

// SimServo records the last commanded angle
type SimServo struct {
	mu    sync.Mutex
	angle int
}

// NewSimServo creates a simulated pan servo centered at 90 degrees
func NewSimServo() *SimServo {
	return &SimServo{angle: 90}
}

// SetAngle positions the servo, clamped to 0-180
func (s *SimServo) SetAngle(degrees int) {
	if degrees < 0 {
		degrees = 0
	}
	if degrees > 180 {
		degrees = 180
	}
	s.mu.Lock()
	s.angle = degrees
	s.mu.Unlock()
}

// Angle returns the last commanded angle
func (s *SimServo) Angle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle
}

// SimSensors is a settable sensor bank for tests and the loopback
// simulator.
type SimSensors struct {
	mu       sync.Mutex
	distance int
	line     [3]int
	battery  int
}

// NewSimSensors creates a sensor bank with a full battery and clear
// surroundings
func NewSimSensors() *SimSensors {
	return &SimSensors{distance: 100, battery: 7900}
}

// DistanceCm returns the ultrasonic reading
func (s *SimSensors) DistanceCm() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.distance
}

// SetDistanceCm sets the ultrasonic reading
func (s *SimSensors) SetDistanceCm(cm int) {
	s.mu.Lock()
	s.distance = cm
	s.mu.Unlock()
}

// Line returns one line-sensor channel (0=left, 1=middle, 2=right)
func (s *SimSensors) Line(channel int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if channel < 0 || channel >= len(s.line) {
		return 0
	}
	return s.line[channel]
}

// SetLine sets one line-sensor channel
func (s *SimSensors) SetLine(channel, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if channel >= 0 && channel < len(s.line) {
		s.line[channel] = value
	}
}

// BatteryMillivolts returns the pack voltage
func (s *SimSensors) BatteryMillivolts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery
}

// SetBatteryMillivolts sets the pack voltage
func (s *SimSensors) SetBatteryMillivolts(mv int) {
	s.mu.Lock()
	s.battery = mv
	s.mu.Unlock()
}
