package geo

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// NearbyDriver is an en-route driver returned from Redis GEO queries.
type NearbyDriver struct {
	DeliveryID string
	Dist       float64
	Lat        float64
	Lng        float64
}

// PositionStore keeps the latest en-route driver position of every active
// delivery in a Redis GEO set, one set per city. Members are overwritten on
// every update, so only the last point is retained.
type PositionStore struct {
	rdb  *redis.Client
	city string
}

// NewPositionStore creates a new store for the given city.
func NewPositionStore(rdb *redis.Client, city string) *PositionStore {
	city = strings.ToLower(strings.TrimSpace(city))
	if city == "" {
		city = "dar-es-salaam"
	}
	return &PositionStore{rdb: rdb, city: city}
}

func positionsKey(city string) string {
	return fmt.Sprintf("deliveries:%s:drivers", city)
}

func memberName(deliveryID string) string {
	return "delivery:" + deliveryID
}

func parseMember(member string) (string, error) {
	id, ok := strings.CutPrefix(member, "delivery:")
	if !ok || id == "" {
		return "", fmt.Errorf("invalid member %q", member)
	}
	return id, nil
}

// Save validates the point and stores it as the delivery's driver position.
func (s *PositionStore) Save(ctx context.Context, deliveryID string, lat, lng float64) error {
	if deliveryID == "" {
		return fmt.Errorf("PositionStore.Save: empty delivery id")
	}
	if !ValidCoordinates(lat, lng) {
		return fmt.Errorf("PositionStore.Save: invalid coords lat=%.8f lng=%.8f", lat, lng)
	}
	return s.rdb.GeoAdd(ctx, positionsKey(s.city), &redis.GeoLocation{
		Name:      memberName(deliveryID),
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

// Get returns the stored driver position of a delivery.
func (s *PositionStore) Get(ctx context.Context, deliveryID string) (float64, float64, bool, error) {
	pos, err := s.rdb.GeoPos(ctx, positionsKey(s.city), memberName(deliveryID)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return 0, 0, false, nil
	}
	return pos[0].Latitude, pos[0].Longitude, true, nil
}

// Forget drops the delivery's position once it is no longer en-route.
func (s *PositionStore) Forget(ctx context.Context, deliveryID string) error {
	return s.rdb.ZRem(ctx, positionsKey(s.city), memberName(deliveryID)).Err()
}

// Nearby returns en-route drivers within radius sorted by distance.
func (s *PositionStore) Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]NearbyDriver, error) {
	res, err := s.search(ctx, positionsKey(s.city), lat, lng, radiusMeters, limit)
	if err != nil {
		return nil, err
	}
	drivers := make([]NearbyDriver, 0, len(res))
	for _, item := range res {
		id, err := parseMember(item.Name)
		if err != nil {
			continue
		}
		drivers = append(drivers, NearbyDriver{DeliveryID: id, Dist: item.Dist, Lat: item.Latitude, Lng: item.Longitude})
	}
	return drivers, nil
}

// OnlineDriver is a driver waiting for work, returned from Redis GEO queries.
type OnlineDriver struct {
	DriverID string
	Dist     float64
	Lat      float64
	Lng      float64
}

func onlineKey(city string) string {
	return fmt.Sprintf("drivers:%s:online", city)
}

// SaveDriver stores the position of a driver who is online.
func (s *PositionStore) SaveDriver(ctx context.Context, driverID string, lat, lng float64) error {
	if driverID == "" {
		return fmt.Errorf("PositionStore.SaveDriver: empty driver id")
	}
	if !ValidCoordinates(lat, lng) {
		return fmt.Errorf("PositionStore.SaveDriver: invalid coords lat=%.8f lng=%.8f", lat, lng)
	}
	return s.rdb.GeoAdd(ctx, onlineKey(s.city), &redis.GeoLocation{
		Name:      "driver:" + driverID,
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

// ForgetDriver removes a driver who went offline or took a delivery.
func (s *PositionStore) ForgetDriver(ctx context.Context, driverID string) error {
	return s.rdb.ZRem(ctx, onlineKey(s.city), "driver:"+driverID).Err()
}

// NearbyDrivers returns online drivers within radius sorted by distance.
func (s *PositionStore) NearbyDrivers(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]OnlineDriver, error) {
	res, err := s.search(ctx, onlineKey(s.city), lat, lng, radiusMeters, limit)
	if err != nil {
		return nil, err
	}
	drivers := make([]OnlineDriver, 0, len(res))
	for _, item := range res {
		id, ok := strings.CutPrefix(item.Name, "driver:")
		if !ok || id == "" {
			continue
		}
		drivers = append(drivers, OnlineDriver{DriverID: id, Dist: item.Dist, Lat: item.Latitude, Lng: item.Longitude})
	}
	return drivers, nil
}

func (s *PositionStore) search(ctx context.Context, key string, lat, lng, radiusMeters float64, limit int) ([]redis.GeoLocation, error) {
	res, err := s.rdb.GeoRadius(ctx, key, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}
