package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

const defaultAvailabilityTTL = 3 * time.Second

// ClassAvailability — снимок остатков одной категории билетов.
type ClassAvailability struct {
	TicketClassID string `json:"ticket_class_id"`
	Name          string `json:"name"`
	PriceMinor    int64  `json:"price_minor"`
	Capacity      int32  `json:"capacity"`
	Available     int32  `json:"available"`
}

// AvailabilityCache кэширует снимки остатков по шоу в Redis.
// TTL короткий: снимок заведомо может отставать от инвентаря,
// авторитетная проверка остатков всегда выполняется при резервировании.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Entry
}

// NewAvailabilityCache создаёт кэш остатков поверх Redis.
func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = defaultAvailabilityTTL
	}
	return &AvailabilityCache{
		client: client,
		ttl:    ttl,
		logger: log.WithField("component", "availability-cache"),
	}
}

func availabilityKey(showID string) string {
	return "tms:availability:" + showID
}

// Get возвращает кэшированный снимок остатков шоу.
// Второй результат false означает промах кэша.
func (c *AvailabilityCache) Get(ctx context.Context, showID string) ([]ClassAvailability, bool) {
	if c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, availabilityKey(showID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("show_id", showID).Warn("cache read failed")
		}
		return nil, false
	}

	var snapshot []ClassAvailability
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		c.logger.WithError(err).WithField("show_id", showID).Warn("cache payload corrupted")
		return nil, false
	}
	return snapshot, true
}

// Set сохраняет снимок остатков шоу с TTL.
func (c *AvailabilityCache) Set(ctx context.Context, showID string, snapshot []ClassAvailability) {
	if c.client == nil {
		return
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.WithError(err).WithField("show_id", showID).Warn("marshal snapshot failed")
		return
	}
	if err := c.client.Set(ctx, availabilityKey(showID), raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("show_id", showID).Warn("cache write failed")
	}
}

// Invalidate удаляет снимок шоу после изменения инвентаря.
func (c *AvailabilityCache) Invalidate(ctx context.Context, showID string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, availabilityKey(showID)).Err(); err != nil {
		c.logger.WithError(err).WithField("show_id", showID).Warn("cache invalidate failed")
	}
}

// Snapshot строит снимок остатков из списка категорий.
func Snapshot(classes []domain.TicketClass) []ClassAvailability {
	snapshot := make([]ClassAvailability, 0, len(classes))
	for _, tc := range classes {
		snapshot = append(snapshot, ClassAvailability{
			TicketClassID: tc.ID,
			Name:          tc.Name,
			PriceMinor:    tc.PriceMinor,
			Capacity:      tc.Capacity,
			Available:     tc.Available(),
		})
	}
	return snapshot
}
