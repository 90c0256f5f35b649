package views

import (
	"sync"
	"time"

	"github.com/drblury/transitboard/internal/runtime/stream"
)

// Weather statuses produced by the upstream weather simulation.
const (
	WeatherSunny         = "sunny"
	WeatherPartlyCloudy  = "partly_cloudy"
	WeatherCloudy        = "cloudy"
	WeatherWindy         = "windy"
	WeatherPrecipitation = "precipitation"
)

// Weather tracks the latest weather reading.
type Weather struct {
	mu          sync.RWMutex
	temperature float64
	status      string
	updatedAt   time.Time
	updates     uint64
}

// WeatherSnapshot is a point-in-time copy handed to renderers.
type WeatherSnapshot struct {
	Temperature float64
	Status      string
	UpdatedAt   time.Time
	Updates     uint64
}

// NewWeather returns the model in its placeholder state.
func NewWeather() *Weather {
	return &Weather{temperature: 70.0, status: WeatherSunny}
}

// ProcessMessage applies {"temperature": n, "status": s}.
func (w *Weather) ProcessMessage(rec stream.Record) error {
	doc, err := document(rec.Value)
	if err != nil {
		return err
	}
	temp, err := requireNumber(doc, "temperature")
	if err != nil {
		return err
	}
	status, err := requireString(doc, "status")
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.temperature = temp.Float()
	w.status = status
	w.updatedAt = recordTime(rec)
	w.updates++
	return nil
}

// Snapshot returns a copy of the current reading.
func (w *Weather) Snapshot() WeatherSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WeatherSnapshot{
		Temperature: w.temperature,
		Status:      w.status,
		UpdatedAt:   w.updatedAt,
		Updates:     w.updates,
	}
}

func recordTime(rec stream.Record) time.Time {
	if rec.Timestamp.IsZero() {
		return time.Now()
	}
	return rec.Timestamp
}
