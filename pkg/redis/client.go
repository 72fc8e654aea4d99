package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"fleet-dispatch/pkg/logger"
)

const (
	freeDriversKey = "drivers:free"
	tripKeyPrefix  = "trip:live:"
	tripTTL        = 24 * time.Hour
)

// Options selects the Redis server.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Client wraps the Redis connection.
type Client struct {
	rdb *goredis.Client
	log logger.Logger
}

// Nearby is one hit of a radius search.
type Nearby struct {
	DriverID   string  `json:"driver_id"`
	DistanceKm float64 `json:"distance_km"`
}

// NewClient connects to Redis with retry.
func NewClient(ctx context.Context, opts Options, log logger.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	for i := 0; i < 20; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			log.Infof("connected to Redis at %s", opts.Addr)
			return &Client{rdb: rdb, log: log}, nil
		}
		log.Warnf("waiting for Redis... (%d/20)", i+1)
		select {
		case <-ctx.Done():
			rdb.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	rdb.Close()
	return nil, fmt.Errorf("redis: failed to connect after 20 attempts")
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *goredis.Client, log logger.Logger) *Client {
	return &Client{rdb: rdb, log: log}
}

// SetDriverLocation indexes a free driver's position in the GEO set.
func (c *Client) SetDriverLocation(ctx context.Context, driverID string, lat, lng float64) error {
	return c.rdb.GeoAdd(ctx, freeDriversKey, &goredis.GeoLocation{
		Name:      driverID,
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

// NearbyDrivers returns up to count indexed drivers within radiusKm of
// (lat,lng), nearest first.
func (c *Client) NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64, count int) ([]Nearby, error) {
	res, err := c.rdb.GeoSearchLocation(ctx, freeDriversKey, &goredis.GeoSearchLocationQuery{
		GeoSearchQuery: goredis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Count:      count,
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, 0, len(res))
	for _, loc := range res {
		out = append(out, Nearby{DriverID: loc.Name, DistanceKm: loc.Dist})
	}
	return out, nil
}

// RemoveDriverLocation drops a driver from the index once it stops being free.
func (c *Client) RemoveDriverLocation(ctx context.Context, driverID string) error {
	return c.rdb.ZRem(ctx, freeDriversKey, driverID).Err()
}

// CacheTrip stores live trip fields in a hash with a TTL.
func (c *Client) CacheTrip(ctx context.Context, tripID string, data map[string]string) error {
	key := tripKeyPrefix + tripID
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, tripTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetCachedTrip retrieves a cached trip hash. A missing key yields an empty map.
func (c *Client) GetCachedTrip(ctx context.Context, tripID string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, tripKeyPrefix+tripID).Result()
}

// DropTrip removes the live cache entry of a finished trip.
func (c *Client) DropTrip(ctx context.Context, tripID string) error {
	return c.rdb.Del(ctx, tripKeyPrefix+tripID).Err()
}

// FormatFloat renders cache values with fixed precision.
func FormatFloat(f float64) string { return strconv.FormatFloat(f, 'f', 4, 64) }

// Close tears down the Redis connection.
func (c *Client) Close() error { return c.rdb.Close() }
