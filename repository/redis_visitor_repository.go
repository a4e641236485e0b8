package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/123bigmirros/electronic-grave/models"
)

// RedisVisitorRepository stores the open viewing sessions of each canvas in a
// Redis hash keyed by session id.
type RedisVisitorRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisVisitorRepository(client *redis.Client, ttl time.Duration) *RedisVisitorRepository {
	return &RedisVisitorRepository{client: client, ttl: ttl}
}

func visitorKey(canvasID int64) string {
	return "canvas:" + strconv.FormatInt(canvasID, 10) + ":visitors"
}

func (r *RedisVisitorRepository) AddVisitor(ctx context.Context, canvasID int64, visitor models.Visitor) error {
	data, err := json.Marshal(visitor)
	if err != nil {
		return err
	}
	key := visitorKey(canvasID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, visitor.SessionID, data)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storageErr("add visitor", err)
	}
	return nil
}

// GetVisitors returns the visitors of a canvas ordered by join time.
// Entries that fail to decode are skipped.
func (r *RedisVisitorRepository) GetVisitors(ctx context.Context, canvasID int64) ([]models.Visitor, error) {
	data, err := r.client.HGetAll(ctx, visitorKey(canvasID)).Result()
	if err != nil {
		return nil, storageErr("get visitors", err)
	}
	visitors := make([]models.Visitor, 0, len(data))
	for _, raw := range data {
		var v models.Visitor
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			visitors = append(visitors, v)
		}
	}
	sort.Slice(visitors, func(i, j int) bool {
		if visitors[i].JoinedAt.Equal(visitors[j].JoinedAt) {
			return visitors[i].SessionID < visitors[j].SessionID
		}
		return visitors[i].JoinedAt.Before(visitors[j].JoinedAt)
	})
	return visitors, nil
}

func (r *RedisVisitorRepository) RemoveVisitor(ctx context.Context, canvasID int64, sessionID string) error {
	if err := r.client.HDel(ctx, visitorKey(canvasID), sessionID).Err(); err != nil {
		return storageErr("remove visitor", err)
	}
	return nil
}
