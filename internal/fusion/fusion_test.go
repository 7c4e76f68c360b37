package fusion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
)

func TestDemandImpactRain(t *testing.T) {
	cur := CurrentWeather{Condition: "Rain", RainLastHourMm: 2, TempC: 20}
	res := Fuse(cur, nil, nil, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), nil)
	if res.DemandImpact != 40 {
		t.Fatalf("expected 40, got %f", res.DemandImpact)
	}
}

func TestDemandImpactHeat(t *testing.T) {
	cur := CurrentWeather{Condition: "Clear", TempC: 36}
	res := Fuse(cur, nil, nil, time.Now(), nil)
	if res.DemandImpact != 25 {
		t.Fatalf("expected 25, got %f", res.DemandImpact)
	}
}

func TestDemandImpactCold(t *testing.T) {
	cur := CurrentWeather{Condition: "Clouds", TempC: 3}
	res := Fuse(cur, nil, nil, time.Now(), nil)
	if res.DemandImpact != 20 {
		t.Fatalf("expected 20, got %f", res.DemandImpact)
	}
}

func TestDemandImpactMild(t *testing.T) {
	cur := CurrentWeather{Condition: "Clear", TempC: 20}
	res := Fuse(cur, nil, nil, time.Now(), nil)
	if res.DemandImpact != 0 {
		t.Fatalf("expected 0, got %f", res.DemandImpact)
	}
}

func TestRainTakesPriorityOverTemperature(t *testing.T) {
	// raining at 36C: the rain branch wins
	cur := CurrentWeather{Condition: "Rain", RainLastHourMm: 0, TempC: 36}
	res := Fuse(cur, nil, nil, time.Now(), nil)
	if res.DemandImpact != 30 {
		t.Fatalf("expected 30, got %f", res.DemandImpact)
	}
}

func TestRainImminentFromFirstForecastEntry(t *testing.T) {
	fc := []ForecastEntry{{Condition: "Rain"}, {Condition: "Clear"}}
	res := Fuse(CurrentWeather{Condition: "Clear", TempC: 20}, fc, nil, time.Now(), nil)
	if !res.RainImminent {
		t.Fatal("expected rain imminent")
	}
	fc = []ForecastEntry{{Condition: "Clear"}, {Condition: "Rain"}}
	res = Fuse(CurrentWeather{Condition: "Clear", TempC: 20}, fc, nil, time.Now(), nil)
	if res.RainImminent {
		t.Fatal("only the first forecast entry counts")
	}
}

func TestCrowdingBuckets(t *testing.T) {
	cases := []struct {
		hour int
		want float64
	}{
		{8, 0.9}, {7, 0.9}, {9, 0.9}, {18, 0.9}, {20, 0.9},
		{12, 0.5}, {10, 0.5}, {17, 0.5},
		{2, 0.3}, {6, 0.3}, {21, 0.3}, {0, 0.3},
	}
	for _, c := range cases {
		if got := Crowding(c.hour); got != c.want {
			t.Fatalf("hour %d: expected %f, got %f", c.hour, c.want, got)
		}
	}
}

func TestLineWaitDefault(t *testing.T) {
	if got := LineWaitMinutes("JR-East.Yamanote"); got != 3 {
		t.Fatalf("expected 3, got %f", got)
	}
	if got := LineWaitMinutes("Unknown.Line"); got != 5 {
		t.Fatalf("expected default 5, got %f", got)
	}
}

func TestStationWaitUsesShortestHeadway(t *testing.T) {
	s := models.Station{ID: "s1", Lines: []string{"Toei.Oedo", "JR-East.Yamanote"}}
	if got := StationWaitMinutes(s); got != 3 {
		t.Fatalf("expected 3, got %f", got)
	}
	if got := StationWaitMinutes(models.Station{ID: "s2"}); got != 5 {
		t.Fatalf("expected default 5, got %f", got)
	}
}

func TestSeverityPriorityOrder(t *testing.T) {
	// suspension outranks a simultaneous delay mention
	if got := ClassifySeverity("遅延のため運転見合わせ"); got != SeveritySevere {
		t.Fatalf("expected severe, got %s", got)
	}
	if got := ClassifySeverity("10分程度の遅延が発生しています"); got != SeverityModerate {
		t.Fatalf("expected moderate, got %s", got)
	}
	if got := ClassifySeverity("直通運転中止"); got != SeverityMinor {
		t.Fatalf("expected minor, got %s", got)
	}
	if got := ClassifySeverity("平常運転"); got != SeverityInfo {
		t.Fatalf("expected info, got %s", got)
	}
	if got := ClassifySeverity("Trains are running suspended due to delay"); got != SeveritySevere {
		t.Fatalf("expected severe for english text, got %s", got)
	}
}

type failingWeather struct{}

func (failingWeather) Current(ctx context.Context, lat, lng float64) (CurrentWeather, error) {
	return CurrentWeather{}, errors.New("upstream down")
}
func (failingWeather) Forecast(ctx context.Context, lat, lng float64) ([]ForecastEntry, error) {
	return nil, errors.New("upstream down")
}

type staticTransit struct{ alerts []TransitAlert }

func (s staticTransit) Alerts(ctx context.Context) ([]TransitAlert, error) { return s.alerts, nil }

func TestSnapshotDegradesOnUpstreamFailure(t *testing.T) {
	e := &Engine{
		Weather: failingWeather{},
		Transit: staticTransit{alerts: []TransitAlert{{Line: "JR-East.Yamanote", Text: "遅延"}}},
		Now:     func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) },
	}
	res := e.Snapshot(context.Background(), 35.68, 139.76)
	if !res.Degraded {
		t.Fatal("expected degraded snapshot")
	}
	if res.DemandImpact != 0 {
		t.Fatalf("expected zero demand impact, got %f", res.DemandImpact)
	}
	if len(res.Alerts) != 0 {
		t.Fatalf("expected no alerts in fallback, got %d", len(res.Alerts))
	}
}
