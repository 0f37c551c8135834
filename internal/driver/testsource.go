package driver

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	testInterval = 40 * time.Millisecond
	testBodies   = 2
)

// BuiltinSDK only knows the synthetic "test" system.
type BuiltinSDK struct {
	// Interval between test frames; 40ms when zero.
	Interval time.Duration
}

func (s BuiltinSDK) Connect(kind string, options map[string]string) (Source, error) {
	if kind != "test" {
		return nil, fmt.Errorf("unsupported mocap type %q: the built-in driver only provides \"test\"", kind)
	}

	bodies := testBodies
	if v, ok := options["bodies"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid bodies option %q", v)
		}
		bodies = n
	}

	interval := s.Interval
	if interval <= 0 {
		interval = testInterval
	}
	return newTestSource(bodies, interval), nil
}

func (s BuiltinSDK) ConnectHost(kind, _ string) (Source, error) {
	return s.Connect(kind, nil)
}

// testSource moves its bodies around the unit circle at one revolution per
// four seconds, each rotated to face along its path.
type testSource struct {
	ticker *time.Ticker
	start  time.Time
	now    time.Time
	bodies int
}

func newTestSource(bodies int, interval time.Duration) *testSource {
	now := time.Now()
	return &testSource{
		ticker: time.NewTicker(interval),
		start:  now,
		now:    now,
		bodies: bodies,
	}
}

func (s *testSource) WaitForNextFrame(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t := <-s.ticker.C:
		s.now = t
		return nil
	}
}

func (s *testSource) RigidBodies() []Body {
	elapsed := s.now.Sub(s.start).Seconds()
	out := make([]Body, 0, s.bodies)
	for i := range s.bodies {
		phase := 2*math.Pi*elapsed/4 + 2*math.Pi*float64(i)/float64(s.bodies)
		yaw := phase + math.Pi/2
		rot := [4]float64{math.Cos(yaw / 2), 0, 0, math.Sin(yaw / 2)}
		out = append(out, Body{
			Name:     "test" + strconv.Itoa(i+1),
			Position: [3]float64{math.Cos(phase), math.Sin(phase), 1},
			Rotation: &rot,
		})
	}
	return out
}

func (s *testSource) Close() error {
	s.ticker.Stop()
	return nil
}
