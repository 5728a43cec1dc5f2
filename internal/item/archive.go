package item

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/report-bot/internal/metrics"
	"github.com/whisper/report-bot/internal/report"
)

const (
	// ItemPrefix is the Redis key prefix for archived messages:
	// item:<guild>:<channel>:<message>.
	ItemPrefix = "item:"

	// ItemTTL is how long a message stays reportable after it was posted.
	ItemTTL = 7 * 24 * time.Hour
)

// Event kinds carried on the archive subject.
const (
	EventPosted  = "posted"
	EventDeleted = "deleted"
)

// ArchivedMessage is the payload published on the archive subject by the
// chat platform whenever a message is posted or deleted.
type ArchivedMessage struct {
	Type      string `json:"type"` // "posted" or "deleted"
	GuildID   uint64 `json:"guild_id"`
	ChannelID uint64 `json:"channel_id"`
	MessageID uint64 `json:"message_id"`
	Author    string `json:"author,omitempty"`
	Content   string `json:"content,omitempty"`
	Ts        int64  `json:"ts,omitempty"`
}

// Ref returns the message reference.
func (m ArchivedMessage) Ref() report.ItemRef {
	return report.ItemRef{GuildID: m.GuildID, ChannelID: m.ChannelID, MessageID: m.MessageID}
}

// Archive stores messages in Redis hashes and serves them to report
// sessions.
type Archive struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewArchive creates an Archive backed by Redis. A non-positive ttl falls
// back to ItemTTL.
func NewArchive(rdb *redis.Client, ttl time.Duration) *Archive {
	if ttl <= 0 {
		ttl = ItemTTL
	}
	return &Archive{rdb: rdb, ttl: ttl}
}

func key(ref report.ItemRef) string {
	return fmt.Sprintf("%s%d:%d:%d", ItemPrefix, ref.GuildID, ref.ChannelID, ref.MessageID)
}

// Put stores a posted message.
func (a *Archive) Put(ctx context.Context, msg ArchivedMessage) error {
	k := key(msg.Ref())
	ts := msg.Ts
	if ts == 0 {
		ts = time.Now().Unix()
	}

	pipe := a.rdb.Pipeline()
	pipe.HSet(ctx, k, map[string]interface{}{
		"author":  msg.Author,
		"content": msg.Content,
		"ts":      ts,
	})
	pipe.Expire(ctx, k, a.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("item: put %s: %w", msg.Ref(), err)
	}
	return nil
}

// Remove forgets a message, e.g. after it was deleted on the platform.
func (a *Archive) Remove(ctx context.Context, ref report.ItemRef) error {
	if err := a.rdb.Del(ctx, key(ref)).Err(); err != nil {
		return fmt.Errorf("item: remove %s: %w", ref, err)
	}
	return nil
}

// Apply stores or removes a message according to the event type.
func (a *Archive) Apply(ctx context.Context, msg ArchivedMessage) error {
	switch msg.Type {
	case EventPosted, "":
		return a.Put(ctx, msg)
	case EventDeleted:
		return a.Remove(ctx, msg.Ref())
	}
	return fmt.Errorf("item: unknown archive event %q", msg.Type)
}

// HandleEvent decodes one archive subject payload and applies it.
func (a *Archive) HandleEvent(ctx context.Context, data []byte) error {
	var msg ArchivedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("item: unmarshal archive event: %w", err)
	}
	if msg.MessageID == 0 {
		return fmt.Errorf("item: archive event without message id")
	}
	return a.Apply(ctx, msg)
}

// FetchItem implements report.ItemFetcher. Missing messages and Redis
// failures both come back as report.ErrItemNotFound; the latter are logged.
func (a *Archive) FetchItem(ctx context.Context, ref report.ItemRef) (report.Item, error) {
	result, err := a.rdb.HGetAll(ctx, key(ref)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.ItemLookups.WithLabelValues("error").Inc()
		log.Printf("[item] lookup %s failed: %v", ref, err)
		return report.Item{}, fmt.Errorf("%w: %v", report.ErrItemNotFound, err)
	}
	if len(result) == 0 {
		metrics.ItemLookups.WithLabelValues("not_found").Inc()
		return report.Item{}, report.ErrItemNotFound
	}

	metrics.ItemLookups.WithLabelValues("found").Inc()
	return report.Item{
		Ref:     ref,
		Author:  result["author"],
		Content: result["content"],
	}, nil
}
