package stations

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/geo"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
)

// Index holds immutable station reference data. It is loaded once at
// startup and never mutated at request time.
type Index struct {
	stations []models.Station
	byID     map[string]models.Station
}

func NewIndex(stations []models.Station) *Index {
	byID := make(map[string]models.Station, len(stations))
	for _, s := range stations {
		byID[s.ID] = s
	}
	return &Index{stations: stations, byID: byID}
}

// LoadFile reads a JSON array of stations, falling back to the built-in
// Tokyo set when path is empty.
func LoadFile(path string) (*Index, error) {
	if path == "" {
		return NewIndex(defaultStations), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stations: read %s: %w", path, err)
	}
	var out []models.Station
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("stations: parse %s: %w", path, err)
	}
	return NewIndex(out), nil
}

func (x *Index) Get(id string) (models.Station, bool) {
	s, ok := x.byID[id]
	return s, ok
}

func (x *Index) All() []models.Station { return x.stations }

// Nearby returns stations within radiusKm of the center, closest first,
// ties broken by ascending station ID. Uses the same haversine as the
// driver index so the radius means the same thing for both.
func (x *Index) Nearby(lat, lng, radiusKm float64, limit int) []models.Station {
	type pair struct {
		s    models.Station
		dist float64
	}
	arr := make([]pair, 0, len(x.stations))
	for _, s := range x.stations {
		dist := geo.HaversineKm(lat, lng, s.Loc.Lat, s.Loc.Lng)
		if dist > radiusKm {
			continue
		}
		arr = append(arr, pair{s, dist})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist != arr[j].dist {
			return arr[i].dist < arr[j].dist
		}
		return arr[i].s.ID < arr[j].s.ID
	})
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.Station, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.s)
	}
	return out
}

var defaultStations = []models.Station{
	{ID: "odpt.Station:JR-East.Yamanote.Tokyo", Name: "東京", Reading: "とうきょう", Loc: models.Coord{Lat: 35.6812, Lng: 139.7671}, Prefecture: "東京都", Lines: []string{"JR-East.Yamanote", "JR-East.ChuoRapid", "TokyoMetro.Marunouchi"}},
	{ID: "odpt.Station:JR-East.Yamanote.Shinjuku", Name: "新宿", Reading: "しんじゅく", Loc: models.Coord{Lat: 35.6896, Lng: 139.7006}, Prefecture: "東京都", Lines: []string{"JR-East.Yamanote", "JR-East.ChuoRapid", "Toei.Oedo"}},
	{ID: "odpt.Station:JR-East.Yamanote.Shibuya", Name: "渋谷", Reading: "しぶや", Loc: models.Coord{Lat: 35.6580, Lng: 139.7016}, Prefecture: "東京都", Lines: []string{"JR-East.Yamanote", "TokyoMetro.Ginza", "TokyoMetro.Hanzomon"}},
	{ID: "odpt.Station:JR-East.Yamanote.Ueno", Name: "上野", Reading: "うえの", Loc: models.Coord{Lat: 35.7141, Lng: 139.7774}, Prefecture: "東京都", Lines: []string{"JR-East.Yamanote", "TokyoMetro.Ginza", "TokyoMetro.Hibiya"}},
	{ID: "odpt.Station:JR-East.Yamanote.Shinagawa", Name: "品川", Reading: "しながわ", Loc: models.Coord{Lat: 35.6285, Lng: 139.7388}, Prefecture: "東京都", Lines: []string{"JR-East.Yamanote", "JR-East.TokaidoMain", "Keikyu.Main"}},
	{ID: "odpt.Station:JR-East.Yamanote.Ikebukuro", Name: "池袋", Reading: "いけぶくろ", Loc: models.Coord{Lat: 35.7295, Lng: 139.7109}, Prefecture: "東京都", Lines: []string{"JR-East.Yamanote", "TokyoMetro.Marunouchi", "TokyoMetro.Yurakucho"}},
}
