// Package redis keeps gemchat documents in redis and tells other processes
// sharing the server when one of them is rewritten.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gemchat/internal/config"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const changesChannel = "changes"

// ErrMissing is returned by Load for a document that was never written.
var ErrMissing = errors.New("redis document missing")

// Change announces that a document was written or removed by another
// process.
type Change struct {
	Doc    string `json:"doc"`
	Origin string `json:"origin"`
}

// Documents reads and writes prefixed string documents.
type Documents struct {
	rdb    *redis.Client
	prefix string
	origin string
}

// Dial connects using the redis section of cfg and pings the server.
func Dial(cfg *config.Config) (*Documents, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	rc := cfg.Redis
	if rc.Host == "" {
		rc.Host = "127.0.0.1"
	}
	if rc.Port == 0 {
		rc.Port = 6379
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", rc.Host, rc.Port),
		Username: rc.Username,
		Password: rc.Password,
		DB:       rc.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s:%d: %w", rc.Host, rc.Port, err)
	}
	return New(rdb, rc.Prefix), nil
}

// New wraps an existing client. Every Documents value gets its own origin
// id so it can skip its own announcements.
func New(rdb *redis.Client, prefix string) *Documents {
	return &Documents{rdb: rdb, prefix: prefix, origin: uuid.NewString()}
}

func (d *Documents) key(doc string) string {
	return d.prefix + doc
}

// Load returns ErrMissing for an absent document.
func (d *Documents) Load(ctx context.Context, doc string) (string, error) {
	value, err := d.rdb.Get(ctx, d.key(doc)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMissing
	}
	return value, err
}

// Store writes the document without expiry and announces it.
func (d *Documents) Store(ctx context.Context, doc, value string) error {
	if err := d.rdb.Set(ctx, d.key(doc), value, 0).Err(); err != nil {
		return err
	}
	d.announce(ctx, doc)
	return nil
}

// Remove deletes the document; removing an absent one is not an error.
func (d *Documents) Remove(ctx context.Context, doc string) error {
	if err := d.rdb.Del(ctx, d.key(doc)).Err(); err != nil {
		return err
	}
	d.announce(ctx, doc)
	return nil
}

func (d *Documents) announce(ctx context.Context, doc string) {
	payload, err := json.Marshal(Change{Doc: doc, Origin: d.origin})
	if err != nil {
		log.Printf("redis change marshal failed: %v", err)
		return
	}
	if err := d.rdb.Publish(ctx, d.key(changesChannel), payload).Err(); err != nil {
		log.Printf("redis publish change failed: %v", err)
	}
}

// Changes streams announcements from other processes until ctx ends.
func (d *Documents) Changes(ctx context.Context) <-chan Change {
	out := make(chan Change)
	pubsub := d.rdb.Subscribe(ctx, d.key(changesChannel))
	// wait for the subscription so writes after this call are seen
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("redis subscribe failed: %v", err)
	}
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ch Change
				if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
					log.Printf("redis change decode failed: %v", err)
					continue
				}
				if ch.Origin == d.origin {
					continue
				}
				select {
				case out <- ch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (d *Documents) Close() error {
	return d.rdb.Close()
}
