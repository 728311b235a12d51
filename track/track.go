// Package track models the simulated PTC devices: locomotives, radio base
// stations and the fleet table the back office maintains from their status
// reports. Devices produce and consume broker messages; they contain no track
// physics.
package track

import (
	"sync"
	"time"

	ptcsim "github.com/dbuentello/PTC-Sim"
)

// Direction of travel along the track.
type Direction string

// Travel directions, in terms of milepost numbering.
const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
)

// Location is a point on the track.
type Location struct {
	Milepost float64
	Lat      float64
	Long     float64
}

// Base is a 220 MHz radio base station covering a milepost range.
type Base struct {
	ID            string
	CoverageStart float64
	CoverageEnd   float64
	Location      Location
}

// Covers reports whether loc lies within the base's coverage.
func (b *Base) Covers(loc Location) bool {
	return loc.Milepost >= b.CoverageStart && loc.Milepost <= b.CoverageEnd
}

// Loco is a simulated locomotive. Its live fields are what the status message
// reports; Connections are its radios, keyed by label.
type Loco struct {
	ID        string
	Addr      string
	Speed     float64
	Heading   float64
	Direction Direction
	Location  Location
	BPP       float64

	Connections map[string]*ptcsim.Connection
}

// Fleet is the back office's view of the locomotives: the last reported state
// of each one plus when it was last heard from.
type Fleet struct {
	mu       sync.Mutex
	locos    map[string]Loco
	lastSeen map[string]time.Time
}

// NewFleet creates an empty fleet table.
func NewFleet() *Fleet {
	return &Fleet{
		locos:    map[string]Loco{},
		lastSeen: map[string]time.Time{},
	}
}

// Update applies a received status to the fleet, creating the loco entry on
// first report.
func (f *Fleet) Update(status Status, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	loco := f.locos[status.LocoID]
	loco.ID = status.LocoID
	loco.Speed = status.Speed
	loco.Heading = status.Heading
	loco.Direction = status.Direction
	loco.Location = Location{
		Milepost: status.Milepost,
		Lat:      status.Lat,
		Long:     status.Long,
	}
	loco.BPP = status.BPP

	f.locos[status.LocoID] = loco
	f.lastSeen[status.LocoID] = at
}

// Loco returns a copy of the last reported state of the given loco.
func (f *Fleet) Loco(id string) (Loco, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	loco, ok := f.locos[id]
	return loco, ok
}

// LastSeen returns when the given loco last reported.
func (f *Fleet) LastSeen(id string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	at, ok := f.lastSeen[id]
	return at, ok
}

// IDs returns the IDs of all locos that ever reported.
func (f *Fleet) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.locos))
	for id := range f.locos {
		ids = append(ids, id)
	}
	return ids
}
