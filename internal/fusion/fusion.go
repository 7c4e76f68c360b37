// Package fusion combines external weather and transit signals into the
// demand-impact score and per-station wait estimates used when quoting
// bookings. The scoring rules mirror the heuristics the mobile client
// already expects, so they must not drift.
package fusion

import (
	"strings"
	"time"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
)

type CurrentWeather struct {
	Condition      string  `json:"condition"`
	Description    string  `json:"description"`
	TempC          float64 `json:"temp"`
	Humidity       int     `json:"humidity"`
	WindSpeed      float64 `json:"wind_speed"`
	RainLastHourMm float64 `json:"rain_amount"`
}

type ForecastEntry struct {
	Time            time.Time `json:"time"`
	Condition       string    `json:"condition"`
	Description     string    `json:"description"`
	TempC           float64   `json:"temp"`
	Rain3hMm        float64   `json:"rain_3h"`
	RainProbability float64   `json:"rain_probability"` // percent
}

type TransitAlert struct {
	Line   string `json:"line"`
	Status string `json:"status"`
	Text   string `json:"text"`
}

type Severity string

const (
	SeveritySevere   Severity = "severe"
	SeverityModerate Severity = "moderate"
	SeverityMinor    Severity = "minor"
	SeverityInfo     Severity = "info"
)

type ClassifiedAlert struct {
	TransitAlert
	Severity Severity `json:"severity"`
}

// Result is the fused snapshot consumed by the dispatch coordinator.
// It is recomputed per query and never persisted.
type Result struct {
	DemandImpact    float64            `json:"demand_impact"`
	RainImminent    bool               `json:"rain_imminent"`
	RainProbability float64            `json:"rain_probability"`
	Crowding        float64            `json:"crowding"`
	PerStationWait  map[string]float64 `json:"per_station_wait"`
	Alerts          []ClassifiedAlert  `json:"alerts"`
	Degraded        bool               `json:"degraded"`
}

// Fuse applies the scoring rules to already-normalized signals. Pure; no
// I/O. Rain takes priority over the temperature branches.
func Fuse(current CurrentWeather, forecast []ForecastEntry, alerts []TransitAlert, now time.Time, stations []models.Station) Result {
	res := Result{PerStationWait: make(map[string]float64, len(stations))}

	switch {
	case current.Condition == "Rain":
		res.DemandImpact = 30 + 5*current.RainLastHourMm
	case current.TempC > 35:
		res.DemandImpact = 25
	case current.TempC < 5:
		res.DemandImpact = 20
	}

	if len(forecast) > 0 {
		res.RainImminent = forecast[0].Condition == "Rain"
		res.RainProbability = forecast[0].RainProbability
	}

	res.Crowding = Crowding(now.Hour())

	for _, s := range stations {
		res.PerStationWait[s.ID] = StationWaitMinutes(s)
	}

	res.Alerts = make([]ClassifiedAlert, 0, len(alerts))
	for _, a := range alerts {
		res.Alerts = append(res.Alerts, ClassifiedAlert{TransitAlert: a, Severity: ClassifySeverity(a.Text)})
	}
	return res
}

// Crowding estimates passenger density for an hour of day (24h clock,
// inclusive bounds): Tokyo rush hours score 0.9, daytime 0.5, else 0.3.
func Crowding(hour int) float64 {
	switch {
	case (hour >= 7 && hour <= 9) || (hour >= 18 && hour <= 20):
		return 0.9
	case hour >= 10 && hour <= 17:
		return 0.5
	default:
		return 0.3
	}
}

// lineFrequencies is the scheduled headway in minutes for lines we know.
var lineFrequencies = map[string]float64{
	"JR-East.Yamanote":      3,
	"JR-East.ChuoRapid":     4,
	"JR-East.KeihinTohoku":  3,
	"TokyoMetro.Ginza":      4,
	"TokyoMetro.Marunouchi": 3,
	"TokyoMetro.Hibiya":     4,
	"Toei.Oedo":             5,
	"Toei.Asakusa":          6,
}

const defaultWaitMinutes = 5

// LineWaitMinutes returns the expected wait for a line, 5 minutes when
// the line is not in the frequency table.
func LineWaitMinutes(line string) float64 {
	if m, ok := lineFrequencies[line]; ok {
		return m
	}
	return defaultWaitMinutes
}

// StationWaitMinutes is the shortest headway among the lines serving the
// station.
func StationWaitMinutes(s models.Station) float64 {
	if len(s.Lines) == 0 {
		return defaultWaitMinutes
	}
	best := LineWaitMinutes(s.Lines[0])
	for _, line := range s.Lines[1:] {
		if w := LineWaitMinutes(line); w < best {
			best = w
		}
	}
	return best
}

// severityRules are checked in order; the first matching keyword wins.
// ODPT publishes Japanese text, so both the Japanese phrasing and its
// English equivalent are recognized.
var severityRules = []struct {
	keywords []string
	severity Severity
}{
	{[]string{"運転見合わせ", "running suspended"}, SeveritySevere},
	{[]string{"遅延", "delay"}, SeverityModerate},
	{[]string{"直通運転中止", "through-service suspended"}, SeverityMinor},
}

func ClassifySeverity(text string) Severity {
	lower := strings.ToLower(text)
	for _, rule := range severityRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) || strings.Contains(text, kw) {
				return rule.severity
			}
		}
	}
	return SeverityInfo
}
