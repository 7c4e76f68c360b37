package fusion

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/observability"
)

// WeatherClient is implemented by the OpenWeather adapter.
type WeatherClient interface {
	Current(ctx context.Context, lat, lng float64) (CurrentWeather, error)
	Forecast(ctx context.Context, lat, lng float64) ([]ForecastEntry, error)
}

// TransitClient is implemented by the ODPT adapter.
type TransitClient interface {
	Alerts(ctx context.Context) ([]TransitAlert, error)
}

// Engine fetches upstream signals and fuses them. A failed fetch never
// reaches the caller: the snapshot degrades to zero demand impact and no
// alerts, flags itself Degraded, and the failure is logged and counted.
type Engine struct {
	Weather  WeatherClient
	Transit  TransitClient
	Stations []models.Station
	Logger   *slog.Logger
	Now      func() time.Time
}

func (e *Engine) Snapshot(ctx context.Context, lat, lng float64) Result {
	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}

	var (
		current  CurrentWeather
		forecast []ForecastEntry
		alerts   []TransitAlert
		degraded bool
	)

	if e.Weather != nil {
		var err error
		if current, err = e.Weather.Current(ctx, lat, lng); err != nil {
			e.warn("weather fetch failed", "upstream", "openweather", "error", err)
			current, degraded = CurrentWeather{}, true
		}
		if forecast, err = e.Weather.Forecast(ctx, lat, lng); err != nil {
			e.warn("forecast fetch failed", "upstream", "openweather", "error", err)
			forecast, degraded = nil, true
		}
	}
	if e.Transit != nil {
		var err error
		if alerts, err = e.Transit.Alerts(ctx); err != nil {
			e.warn("transit alerts fetch failed", "upstream", "odpt", "error", err)
			alerts, degraded = nil, true
		}
	}

	res := Fuse(current, forecast, alerts, now, e.Stations)
	if degraded {
		// degraded snapshots carry no demand impact and no alerts
		res = Result{PerStationWait: res.PerStationWait, Crowding: res.Crowding, Degraded: true}
		observability.SignalFallbacks.Inc()
	}
	return res
}

func (e *Engine) warn(msg string, args ...any) {
	if e.Logger != nil {
		e.Logger.Warn(msg, args...)
	}
}
