// Package weather normalizes OpenWeather responses at the boundary so the
// fusion engine never sees provider JSON.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/fusion"
)

const defaultBaseURL = "https://api.openweathermap.org/data/2.5"

type OpenWeatherClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewOpenWeatherClient(apiKey string) *OpenWeatherClient {
	return &OpenWeatherClient{
		BaseURL: defaultBaseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// owResponse covers both /weather and /forecast list entries.
type owEntry struct {
	Dt      int64 `json:"dt"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Rain struct {
		OneH   float64 `json:"1h"`
		ThreeH float64 `json:"3h"`
	} `json:"rain"`
	Pop float64 `json:"pop"`
}

func (c *OpenWeatherClient) Current(ctx context.Context, lat, lng float64) (fusion.CurrentWeather, error) {
	var out owEntry
	if err := c.get(ctx, "/weather", lat, lng, &out); err != nil {
		return fusion.CurrentWeather{}, err
	}
	cw := fusion.CurrentWeather{
		TempC:          out.Main.Temp,
		Humidity:       out.Main.Humidity,
		WindSpeed:      out.Wind.Speed,
		RainLastHourMm: out.Rain.OneH,
	}
	if len(out.Weather) > 0 {
		cw.Condition = out.Weather[0].Main
		cw.Description = out.Weather[0].Description
	}
	return cw, nil
}

func (c *OpenWeatherClient) Forecast(ctx context.Context, lat, lng float64) ([]fusion.ForecastEntry, error) {
	var out struct {
		List []owEntry `json:"list"`
	}
	if err := c.get(ctx, "/forecast", lat, lng, &out); err != nil {
		return nil, err
	}
	entries := make([]fusion.ForecastEntry, 0, len(out.List))
	for _, item := range out.List {
		e := fusion.ForecastEntry{
			Time:            time.Unix(item.Dt, 0),
			TempC:           item.Main.Temp,
			Rain3hMm:        item.Rain.ThreeH,
			RainProbability: item.Pop * 100,
		}
		if len(item.Weather) > 0 {
			e.Condition = item.Weather[0].Main
			e.Description = item.Weather[0].Description
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *OpenWeatherClient) get(ctx context.Context, path string, lat, lng float64, out any) error {
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lng))
	q.Set("appid", c.APIKey)
	q.Set("units", "metric")
	q.Set("lang", "ja")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("openweather %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openweather %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openweather %s: decode: %w", path, err)
	}
	return nil
}
