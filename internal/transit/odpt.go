// Package transit wraps the ODPT open data API. Provider JSON-LD keys are
// normalized into explicit structs before anything leaves this package.
package transit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/fusion"
)

const defaultBaseURL = "https://api.odpt.org/api/v4"

type ODPTClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewODPTClient(apiKey string) *ODPTClient {
	return &ODPTClient{
		BaseURL: defaultBaseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type Train struct {
	TrainID     string `json:"train_id"`
	TrainNumber string `json:"train_number"`
	TrainType   string `json:"train_type"`
	FromStation string `json:"from_station"`
	ToStation   string `json:"to_station"`
	DelaySec    int    `json:"delay"`
	Operator    string `json:"operator"`
}

type TimetableEntry struct {
	Station   string `json:"station"`
	Railway   string `json:"railway"`
	Direction string `json:"direction"`
}

type Bus struct {
	BusID       string `json:"bus_id"`
	BusNumber   string `json:"bus_number"`
	FromBusstop string `json:"from_busstop"`
	ToBusstop   string `json:"to_busstop"`
	Operator    string `json:"operator"`
}

type CongestionInfo struct {
	Railway   string `json:"railway"`
	Status    string `json:"status"`
	Text      string `json:"text"`
	ValidFrom string `json:"valid_from"`
	Operator  string `json:"operator"`
}

type odptTrain struct {
	ID          string `json:"@id"`
	TrainNumber string `json:"odpt:trainNumber"`
	TrainType   string `json:"odpt:trainType"`
	FromStation string `json:"odpt:fromStation"`
	ToStation   string `json:"odpt:toStation"`
	Delay       int    `json:"odpt:delay"`
	Operator    string `json:"odpt:operator"`
}

type odptTrainInformation struct {
	Railway string `json:"odpt:railway"`
	Status  string `json:"odpt:trainInformationStatus"`
	Text    struct {
		Ja string `json:"ja"`
	} `json:"odpt:trainInformationText"`
	Valid    string `json:"dct:valid"`
	Operator string `json:"odpt:operator"`
}

type odptBus struct {
	ID          string `json:"@id"`
	BusNumber   string `json:"odpt:busNumber"`
	FromBusstop string `json:"odpt:fromBusstop"`
	ToBusstop   string `json:"odpt:toBusstop"`
	Operator    string `json:"odpt:operator"`
}

type odptStationTimetable struct {
	Station   string `json:"odpt:station"`
	Railway   string `json:"odpt:railway"`
	Direction string `json:"odpt:railDirection"`
}

// Trains returns realtime trains, optionally filtered to ones touching the
// named station. At most 10 entries, matching what the client renders.
func (c *ODPTClient) Trains(ctx context.Context, station string) ([]Train, error) {
	var raw []odptTrain
	if err := c.get(ctx, "odpt:Train", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]Train, 0, len(raw))
	for _, t := range raw {
		if station != "" && !strings.Contains(t.FromStation, station) && !strings.Contains(t.ToStation, station) {
			continue
		}
		out = append(out, Train{
			TrainID:     t.ID,
			TrainNumber: t.TrainNumber,
			TrainType:   t.TrainType,
			FromStation: t.FromStation,
			ToStation:   t.ToStation,
			DelaySec:    t.Delay,
			Operator:    t.Operator,
		})
		if len(out) == 10 {
			break
		}
	}
	return out, nil
}

func (c *ODPTClient) Timetable(ctx context.Context, stationID string) ([]TimetableEntry, error) {
	q := url.Values{}
	if stationID != "" {
		q.Set("odpt:station", stationID)
	}
	var raw []odptStationTimetable
	if err := c.get(ctx, "odpt:StationTimetable", q, &raw); err != nil {
		return nil, err
	}
	out := make([]TimetableEntry, 0, len(raw))
	for _, t := range raw {
		out = append(out, TimetableEntry{Station: t.Station, Railway: t.Railway, Direction: t.Direction})
	}
	return out, nil
}

func (c *ODPTClient) Buses(ctx context.Context, stop string) ([]Bus, error) {
	var raw []odptBus
	if err := c.get(ctx, "odpt:Bus", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]Bus, 0, 5)
	for _, b := range raw {
		if stop != "" && !strings.Contains(b.FromBusstop, stop) && !strings.Contains(b.ToBusstop, stop) {
			continue
		}
		out = append(out, Bus{BusID: b.ID, BusNumber: b.BusNumber, FromBusstop: b.FromBusstop, ToBusstop: b.ToBusstop, Operator: b.Operator})
		if len(out) == 5 {
			break
		}
	}
	return out, nil
}

func (c *ODPTClient) Congestion(ctx context.Context, trainID string) ([]CongestionInfo, error) {
	raw, err := c.trainInformation(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CongestionInfo, 0, len(raw))
	for _, info := range raw {
		// train IDs embed the railway, e.g. odpt.Train:JR-East.Yamanote.1234G
		if trainID != "" && info.Railway != "" && !strings.Contains(trainID, railwaySuffix(info.Railway)) {
			continue
		}
		out = append(out, CongestionInfo{
			Railway:   info.Railway,
			Status:    info.Status,
			Text:      info.Text.Ja,
			ValidFrom: info.Valid,
			Operator:  info.Operator,
		})
	}
	return out, nil
}

// Alerts implements fusion.TransitClient.
func (c *ODPTClient) Alerts(ctx context.Context) ([]fusion.TransitAlert, error) {
	raw, err := c.trainInformation(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]fusion.TransitAlert, 0, len(raw))
	for _, info := range raw {
		text := info.Text.Ja
		if text == "" {
			text = "運行情報あり"
		}
		out = append(out, fusion.TransitAlert{Line: info.Railway, Status: info.Status, Text: text})
	}
	return out, nil
}

func railwaySuffix(railway string) string {
	if i := strings.LastIndex(railway, ":"); i >= 0 {
		return railway[i+1:]
	}
	return railway
}

func (c *ODPTClient) trainInformation(ctx context.Context) ([]odptTrainInformation, error) {
	var raw []odptTrainInformation
	if err := c.get(ctx, "odpt:TrainInformation", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *ODPTClient) get(ctx context.Context, resource string, q url.Values, out any) error {
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("acl:consumerKey", c.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/"+resource+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("odpt %s: %w", resource, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("odpt %s: status %d", resource, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("odpt %s: decode: %w", resource, err)
	}
	return nil
}
