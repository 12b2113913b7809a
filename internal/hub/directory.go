package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"doodlecall-backend/internal/model"
)

// RedisChannel is the pub/sub channel mirrored room snapshots are published
// on, for dashboards running outside this process.
const RedisChannel = "room-directory"

// RoomUpdatePayload wraps a room snapshot for the wire.
type RoomUpdatePayload struct {
	Room *model.Room `json:"room"`
}

// Directory is the room-directory topic: every connected client subscribes
// on connect and receives room snapshot updates regardless of which room it
// is in (cross-room dashboards show live participant counts). Fan-out is
// bounded by the subscriber set.
type Directory struct {
	mu   sync.RWMutex
	subs map[string]*Client

	rdb *redis.Client // optional cross-process mirror
}

// NewDirectory creates a directory topic. rdb may be nil.
func NewDirectory(rdb *redis.Client) *Directory {
	return &Directory{
		subs: make(map[string]*Client),
		rdb:  rdb,
	}
}

// ConnectRedis dials the optional Redis mirror
func ConnectRedis(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return client, nil
}

// Subscribe registers a connection for room snapshot updates
func (d *Directory) Subscribe(c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[c.ID] = c
}

// Unsubscribe removes a connection
func (d *Directory) Unsubscribe(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, connID)
}

// SubscriberCount returns the number of subscribed connections
func (d *Directory) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// PublishRoomUpdate fans a room snapshot out to every subscriber and, when
// Redis is configured, mirrors it for external consumers.
func (d *Directory) PublishRoomUpdate(room *model.Room) {
	if room == nil {
		return
	}

	payload := RoomUpdatePayload{Room: room}

	d.mu.RLock()
	subs := make([]*Client, 0, len(d.subs))
	for _, c := range d.subs {
		subs = append(subs, c)
	}
	d.mu.RUnlock()

	for _, c := range subs {
		if err := c.Emit(EventRoomUpdated, payload); err != nil {
			log.Printf("[Directory] Failed to send room update to %s: %v", c.ID, err)
		}
	}

	if d.rdb != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			data, err := json.Marshal(payload)
			if err != nil {
				return
			}
			if err := d.rdb.Publish(ctx, RedisChannel, data).Err(); err != nil {
				log.Printf("[Directory] Redis publish failed: %v", err)
			}
		}()
	}
}
