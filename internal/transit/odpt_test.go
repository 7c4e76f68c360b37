package transit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *ODPTClient {
	t.Helper()
	upstream := httptest.NewServer(handler)
	t.Cleanup(upstream.Close)
	return &ODPTClient{
		BaseURL: upstream.URL,
		APIKey:  "test-key",
		Client:  &http.Client{Timeout: time.Second},
	}
}

func TestTrainsNormalizesAndFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("acl:consumerKey") != "test-key" {
			t.Errorf("consumer key not sent: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `[
			{"@id":"odpt.Train:JR-East.Yamanote.1234G","odpt:trainNumber":"1234G","odpt:trainType":"odpt.TrainType:JR-East.Local","odpt:fromStation":"odpt.Station:JR-East.Yamanote.Tokyo","odpt:toStation":"odpt.Station:JR-East.Yamanote.Kanda","odpt:delay":60,"odpt:operator":"odpt.Operator:JR-East"},
			{"@id":"odpt.Train:JR-East.Yamanote.1236G","odpt:trainNumber":"1236G","odpt:fromStation":"odpt.Station:JR-East.Yamanote.Shibuya","odpt:toStation":"odpt.Station:JR-East.Yamanote.Harajuku"}
		]`)
	})

	trains, err := c.Trains(context.Background(), "Tokyo")
	if err != nil {
		t.Fatalf("trains: %v", err)
	}
	if len(trains) != 1 {
		t.Fatalf("expected the Tokyo train only, got %d", len(trains))
	}
	got := trains[0]
	if got.TrainID != "odpt.Train:JR-East.Yamanote.1234G" || got.TrainNumber != "1234G" || got.DelaySec != 60 {
		t.Fatalf("normalization lost fields: %+v", got)
	}
}

func TestBusesNormalizesProviderJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"@id":"odpt.Bus:Toei.Shibuya88.1","odpt:busNumber":"S88-1","odpt:fromBusstop":"odpt.BusstopPole:Toei.Shibuya","odpt:toBusstop":"odpt.BusstopPole:Toei.Ebisu","odpt:operator":"odpt.Operator:Toei"}
		]`)
	})

	buses, err := c.Buses(context.Background(), "")
	if err != nil {
		t.Fatalf("buses: %v", err)
	}
	if len(buses) != 1 {
		t.Fatalf("expected 1 bus, got %d", len(buses))
	}
	got := buses[0]
	if got.BusID != "odpt.Bus:Toei.Shibuya88.1" || got.BusNumber != "S88-1" {
		t.Fatalf("normalization lost fields: %+v", got)
	}
	if got.FromBusstop != "odpt.BusstopPole:Toei.Shibuya" || got.ToBusstop != "odpt.BusstopPole:Toei.Ebisu" {
		t.Fatalf("busstops not mapped: %+v", got)
	}
}

func TestAlertsFillEmptyTextAndCongestionFiltersByRailway(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"odpt:railway":"odpt.Railway:JR-East.Yamanote","odpt:trainInformationStatus":"平常運転","odpt:trainInformationText":{"ja":""}},
			{"odpt:railway":"odpt.Railway:TokyoMetro.Ginza","odpt:trainInformationStatus":"遅延","odpt:trainInformationText":{"ja":"遅延が発生しています"}}
		]`)
	})

	alerts, err := c.Alerts(context.Background())
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].Text != "運行情報あり" {
		t.Fatalf("empty alert text should get the placeholder, got %q", alerts[0].Text)
	}

	infos, err := c.Congestion(context.Background(), "odpt.Train:TokyoMetro.Ginza.A123")
	if err != nil {
		t.Fatalf("congestion: %v", err)
	}
	if len(infos) != 1 || infos[0].Railway != "odpt.Railway:TokyoMetro.Ginza" {
		t.Fatalf("railway filter wrong: %+v", infos)
	}
}

func TestUpstreamErrorSurfaced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})
	if _, err := c.Trains(context.Background(), ""); err == nil {
		t.Fatal("expected error on non-200 upstream")
	}
}
