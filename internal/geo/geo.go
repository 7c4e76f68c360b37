package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/observability"
)

// Geo is the minimal interface required by the coordinator and handlers.
// Nearby returns online drivers within radiusKm of the center, closest
// first, ties broken by ascending driver ID. An empty result is a valid
// answer, not an error.
type Geo interface {
	Nearby(lat, lng, radiusKm float64, limit int) []models.Driver
	Upsert(d models.Driver)
	SetStatus(driverID string, status models.DriverStatus, bookingID string)
	Get(driverID string) (models.Driver, bool)
}

type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver)}
}

func (g *Index) Upsert(d models.Driver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	if prev, ok := g.drivers[d.ID]; ok && d.Status == "" {
		// location-only update keeps the dispatch state
		d.Status = prev.Status
		d.CurrentBooking = prev.CurrentBooking
	}
	if d.Status == "" {
		d.Status = models.DriverOnline
	}
	g.drivers[d.ID] = d
	g.gaugeOnlineLocked()
}

// SetStatus mirrors a dispatch-state change into the index. Only the
// booking machine may call it.
func (g *Index) SetStatus(driverID string, status models.DriverStatus, bookingID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drivers[driverID]
	if !ok {
		d = models.Driver{ID: driverID}
	}
	d.Status = status
	d.CurrentBooking = bookingID
	d.Updated = time.Now()
	g.drivers[driverID] = d
	g.gaugeOnlineLocked()
}

func (g *Index) gaugeOnlineLocked() {
	n := 0
	for _, d := range g.drivers {
		if d.Status == models.DriverOnline {
			n++
		}
	}
	observability.DriversOnline.Set(float64(n))
}

func (g *Index) Get(driverID string) (models.Driver, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.drivers[driverID]
	return d, ok
}

func (g *Index) Nearby(lat, lng, radiusKm float64, limit int) []models.Driver {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		d    models.Driver
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if d.Status != models.DriverOnline {
			continue
		}
		dist := HaversineKm(lat, lng, d.Loc.Lat, d.Loc.Lng)
		if dist > radiusKm {
			continue
		}
		arr = append(arr, pair{d, dist})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist != arr[j].dist {
			return arr[i].dist < arr[j].dist
		}
		return arr[i].d.ID < arr[j].d.ID
	})
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.Driver, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.d)
	}
	return out
}

// HaversineKm is the great-circle distance in kilometers. The same
// approximation is used for drivers and stations so radius semantics
// stay comparable between the two.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
