package views

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/drblury/transitboard/internal/runtime/stream"
)

// Line colours carried by the status page, in display order.
const (
	LineRed   = "red"
	LineGreen = "green"
	LineBlue  = "blue"
)

var lineOrder = []string{LineRed, LineGreen, LineBlue}

// LinesTopics tells Lines which records carry which shape. Dispatch depends
// on record content only, never on which binding delivered it.
type LinesTopics struct {
	Stations         string
	ArrivalPrefix    string
	TurnstileSummary string
}

// Train occupies one direction slot of a station.
type Train struct {
	ID     string
	Status string
}

// Station is the rendered state of one stop.
type Station struct {
	ID               int64
	Name             string
	Order            int64
	DirA             *Train
	DirB             *Train
	TurnstileEntries int64
}

// LineSnapshot is a copy of one line, stations sorted by route order.
type LineSnapshot struct {
	Color    string
	Stations []Station
}

// Lines aggregates station, arrival and turnstile records for every line.
type Lines struct {
	mu     sync.RWMutex
	topics LinesTopics
	lines  map[string]map[int64]*Station
}

// NewLines returns empty red, green and blue lines.
func NewLines(topics LinesTopics) *Lines {
	l := &Lines{topics: topics, lines: make(map[string]map[int64]*Station, len(lineOrder))}
	for _, color := range lineOrder {
		l.lines[color] = make(map[int64]*Station)
	}
	return l
}

// ProcessMessage routes a record to the station, arrival or turnstile
// handler based on its topic.
func (l *Lines) ProcessMessage(rec stream.Record) error {
	doc, err := document(rec.Value)
	if err != nil {
		return err
	}

	switch {
	case l.topics.Stations != "" && rec.Topic == l.topics.Stations:
		return l.applyStation(doc)
	case l.topics.TurnstileSummary != "" && rec.Topic == l.topics.TurnstileSummary:
		return l.applyTurnstile(doc)
	case l.topics.ArrivalPrefix != "" && strings.HasPrefix(rec.Topic, l.topics.ArrivalPrefix):
		return l.applyArrival(doc)
	default:
		return fmt.Errorf("%w: topic %q", ErrUnrecognizedRecord, rec.Topic)
	}
}

func (l *Lines) applyStation(doc gjson.Result) error {
	id, err := requireNumber(doc, "station_id")
	if err != nil {
		return err
	}
	name, err := requireString(doc, "station_name")
	if err != nil {
		return err
	}
	color, err := requireString(doc, "line")
	if err != nil {
		return err
	}
	order := field(doc, "order").Int()

	l.mu.Lock()
	defer l.mu.Unlock()
	stations, ok := l.lines[strings.ToLower(color)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLine, color)
	}
	st, ok := stations[id.Int()]
	if !ok {
		st = &Station{ID: id.Int()}
		stations[st.ID] = st
	}
	st.Name = name
	st.Order = order
	return nil
}

func (l *Lines) applyArrival(doc gjson.Result) error {
	id, err := requireNumber(doc, "station_id")
	if err != nil {
		return err
	}
	color, err := requireString(doc, "line")
	if err != nil {
		return err
	}
	direction, err := requireString(doc, "direction")
	if err != nil {
		return err
	}
	if direction != "a" && direction != "b" {
		return fmt.Errorf("%w: direction %q", ErrMalformedRecord, direction)
	}
	trainID, err := requireString(doc, "train_id")
	if err != nil {
		return err
	}
	status := field(doc, "train_status").String()
	prevID := field(doc, "prev_station_id")
	prevDir := field(doc, "prev_direction").String()

	l.mu.Lock()
	defer l.mu.Unlock()
	stations, ok := l.lines[strings.ToLower(color)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLine, color)
	}
	st, ok := stations[id.Int()]
	if !ok {
		return fmt.Errorf("%w: %d on %s line", ErrUnknownStation, id.Int(), color)
	}

	if prevID.Type == gjson.Number && prevDir != "" {
		if prev, ok := stations[prevID.Int()]; ok {
			prev.depart(prevDir)
		}
	}
	st.arrive(direction, Train{ID: trainID, Status: status})
	return nil
}

func (l *Lines) applyTurnstile(doc gjson.Result) error {
	id, err := requireNumber(doc, "STATION_ID")
	if err != nil {
		return err
	}
	count, err := requireNumber(doc, "COUNT")
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	found := false
	for _, stations := range l.lines {
		if st, ok := stations[id.Int()]; ok {
			st.TurnstileEntries = count.Int()
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %d", ErrUnknownStation, id.Int())
	}
	return nil
}

func (s *Station) arrive(direction string, train Train) {
	if direction == "a" {
		s.DirA = &train
	} else {
		s.DirB = &train
	}
}

func (s *Station) depart(direction string) {
	if direction == "a" {
		s.DirA = nil
	} else {
		s.DirB = nil
	}
}

// Snapshot returns deep copies of every line in display order.
func (l *Lines) Snapshot() []LineSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LineSnapshot, 0, len(lineOrder))
	for _, color := range lineOrder {
		stations := l.lines[color]
		snap := LineSnapshot{Color: color, Stations: make([]Station, 0, len(stations))}
		for _, st := range stations {
			snap.Stations = append(snap.Stations, st.clone())
		}
		sort.Slice(snap.Stations, func(i, j int) bool {
			a, b := snap.Stations[i], snap.Stations[j]
			if a.Order != b.Order {
				return a.Order < b.Order
			}
			return a.ID < b.ID
		})
		out = append(out, snap)
	}
	return out
}

func (s *Station) clone() Station {
	c := *s
	if s.DirA != nil {
		a := *s.DirA
		c.DirA = &a
	}
	if s.DirB != nil {
		b := *s.DirB
		c.DirB = &b
	}
	return c
}
