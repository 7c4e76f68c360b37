package geo

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
)

// RedisGeo implements Geo on Redis GEO commands so multiple server
// processes share one live driver set.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(d models.Driver) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lng, Latitude: d.Loc.Lat, Name: d.ID}).Result()
	if d.Status == "" {
		// first sighting comes up online; an existing status is dispatch
		// state owned by the booking flow and stays put
		_ = r.client.HSetNX(r.ctx, metaKey(d.ID), "status", string(models.DriverOnline)).Err()
	}
	_ = r.client.HSet(r.ctx, metaKey(d.ID), upsertMeta(d)).Err()
}

// upsertMeta builds the hash fields a driver write may touch. A
// location-only update (empty Status) never carries status or booking,
// matching the in-memory index semantics.
func upsertMeta(d models.Driver) map[string]interface{} {
	m := map[string]interface{}{
		"updated": time.Now().Format(time.RFC3339),
	}
	if d.Name != "" {
		m["name"] = d.Name
	}
	if d.Vehicle != "" {
		m["vehicle"] = d.Vehicle
	}
	if d.Rating != 0 {
		m["rating"] = strconv.FormatFloat(d.Rating, 'f', -1, 64)
	}
	if d.Status != "" {
		m["status"] = string(d.Status)
		m["booking"] = d.CurrentBooking
	}
	return m
}

func (r *RedisGeo) SetStatus(driverID string, status models.DriverStatus, bookingID string) {
	_ = r.client.HSet(r.ctx, metaKey(driverID), map[string]interface{}{
		"status":  string(status),
		"booking": bookingID,
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Get(driverID string) (models.Driver, bool) {
	m, err := r.client.HGetAll(r.ctx, metaKey(driverID)).Result()
	if err != nil || len(m) == 0 {
		return models.Driver{}, false
	}
	d := models.Driver{ID: driverID}
	r.applyMeta(&d, m)
	if pos, err := r.client.GeoPos(r.ctx, r.key, driverID).Result(); err == nil && len(pos) == 1 && pos[0] != nil {
		d.Loc = models.Coord{Lat: pos[0].Latitude, Lng: pos[0].Longitude}
	}
	return d, true
}

func (r *RedisGeo) Nearby(lat, lng, radiusKm float64, limit int) []models.Driver {
	q := &redis.GeoRadiusQuery{Radius: radiusKm, Unit: "km", WithCoord: true, WithDist: true, Sort: "ASC"}
	res, err := r.client.GeoRadius(r.ctx, r.key, lng, lat, q).Result()
	if err != nil {
		return nil
	}
	type pair struct {
		d    models.Driver
		dist float64
	}
	arr := make([]pair, 0, len(res))
	for _, g := range res {
		d := models.Driver{ID: g.Name}
		d.Loc.Lat = g.Latitude
		d.Loc.Lng = g.Longitude
		m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		r.applyMeta(&d, m)
		if d.Status != models.DriverOnline {
			continue
		}
		arr = append(arr, pair{d, g.Dist})
	}
	// redis sorts by distance only; re-sort for a stable ID tie-break
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

func (r *RedisGeo) applyMeta(d *models.Driver, m map[string]string) {
	d.Name = m["name"]
	d.Vehicle = m["vehicle"]
	d.CurrentBooking = m["booking"]
	if v, ok := m["rating"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			d.Rating = f
		}
	}
	if v, ok := m["status"]; ok && v != "" {
		d.Status = models.DriverStatus(v)
	} else {
		d.Status = models.DriverOffline
	}
	if v, ok := m["updated"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			d.Updated = t
		}
	}
}

func metaKey(id string) string { return "driver:meta:" + id }
