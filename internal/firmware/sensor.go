package firmware

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/renodectl/internal/packet"
)

// Sensor produces one reading per call.
type Sensor interface {
	Read(now time.Time) packet.Reading
}

// RandomSensor emits values uniformly distributed over the bench ranges.
type RandomSensor struct {
	DeviceID string

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomSensor(deviceID string, seed int64) *RandomSensor {
	return &RandomSensor{DeviceID: deviceID, rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomSensor) Read(now time.Time) packet.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return packet.Reading{
		DeviceID:    s.DeviceID,
		Timestamp:   packet.StampNow(now),
		Temperature: s.uniform(20.0, 30.0),
		Humidity:    s.uniform(40.0, 80.0),
		Pressure:    s.uniform(980.0, 1020.0),
		Voltage:     s.uniform(3.2, 3.8),
		CPUUsage:    10 + s.rng.Intn(41),
	}
}

func (s *RandomSensor) uniform(lo, hi float64) float64 {
	v := lo + s.rng.Float64()*(hi-lo)
	return math.Round(v*100) / 100
}
