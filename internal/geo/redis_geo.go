package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/location-connect/internal/models"
)

// RedisGeo implements Geo over Redis GEO commands. One sorted set per role
// plus a metadata hash per identity. Normally the consumer binary keeps the
// mirror current from the location firehose; the server only reads it.
type RedisGeo struct {
	client *redis.Client
	prefix string
	ctx    context.Context
}

func NewRedisGeo(addr, password, prefix string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, prefix: prefix, ctx: context.Background()}
}

func (r *RedisGeo) geoKey(role models.Role) string { return r.prefix + ":" + string(role) }

func MetaKey(id string) string { return "identity:meta:" + id }

func (r *RedisGeo) Upsert(p Point) {
	_, _ = r.client.GeoAdd(r.ctx, r.geoKey(p.Role), &redis.GeoLocation{Longitude: p.Lng, Latitude: p.Lat, Name: p.ID}).Result()
	_ = r.client.HSet(r.ctx, MetaKey(p.ID), map[string]interface{}{"name": p.Name, "role": string(p.Role)}).Err()
}

func (r *RedisGeo) Remove(id string) {
	// role unknown here; drop the member from both sets
	for _, role := range []models.Role{models.RoleSeeker, models.RoleProvider} {
		_ = r.client.ZRem(r.ctx, r.geoKey(role), id).Err()
	}
	_ = r.client.Del(r.ctx, MetaKey(id)).Err()
}

func (r *RedisGeo) Nearby(role models.Role, lat, lng float64, limit int) []Point {
	res, err := r.client.GeoRadius(r.ctx, r.geoKey(role), lng, lat, &redis.GeoRadiusQuery{
		Radius: 5000, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]Point, 0, len(res))
	for _, g := range res {
		p := Point{ID: g.Name, Role: role, Lat: g.Latitude, Lng: g.Longitude}
		if m, err := r.client.HGetAll(r.ctx, MetaKey(g.Name)).Result(); err == nil {
			if v, ok := m["name"]; ok {
				p.Name = v
			}
		}
		out = append(out, p)
	}
	return out
}
