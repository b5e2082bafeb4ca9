package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	redisPendingKey = "veracity:pending"
	redisKeyPrefix  = "veracity"
)

// upsertScript writes one hash field per participant. It refuses the write
// once the (content, epoch) bucket has been marked settled and returns the
// HSET result (1 new field, 0 overwritten).
var upsertScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return -1
end
local n = redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[4])
return n
`)

// RedisSubmissionStore buffers submissions in Redis: one hash per
// (content, epoch) keyed by participant, plus a sorted set of unsettled
// buckets scored by epoch number.
type RedisSubmissionStore struct {
	client goredis.UniversalClient
}

func NewRedisSubmissionStore(client goredis.UniversalClient) *RedisSubmissionStore {
	return &RedisSubmissionStore{client: client}
}

// NewRedisClient dials addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (goredis.UniversalClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        []string{addr},
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func bucketKey(contentID string, epochNumber uint64) string {
	return fmt.Sprintf("%s:sub:%s:%d", redisKeyPrefix, contentID, epochNumber)
}

func settledKey(contentID string, epochNumber uint64) string {
	return fmt.Sprintf("%s:settled:%s:%d", redisKeyPrefix, contentID, epochNumber)
}

func pendingMember(contentID string, epochNumber uint64) string {
	return strconv.FormatUint(epochNumber, 10) + "|" + contentID
}

func parsePendingMember(m string) (domain.PendingSettlement, error) {
	epoch, contentID, ok := strings.Cut(m, "|")
	if !ok {
		return domain.PendingSettlement{}, fmt.Errorf("malformed pending member %q", m)
	}
	n, err := strconv.ParseUint(epoch, 10, 64)
	if err != nil {
		return domain.PendingSettlement{}, fmt.Errorf("malformed pending member %q: %w", m, err)
	}
	return domain.PendingSettlement{ContentID: contentID, EpochNumber: n}, nil
}

func (s *RedisSubmissionStore) Upsert(ctx context.Context, sub *domain.Submission) (bool, error) {
	payload, err := json.Marshal(sub)
	if err != nil {
		return false, err
	}
	n, err := upsertScript.Run(ctx, s.client,
		[]string{bucketKey(sub.ContentID, sub.EpochNumber), settledKey(sub.ContentID, sub.EpochNumber), redisPendingKey},
		sub.ParticipantID, payload, sub.EpochNumber, pendingMember(sub.ContentID, sub.EpochNumber),
	).Int()
	if err != nil {
		return false, err
	}
	if n < 0 {
		return false, domain.ErrEpochClosed
	}
	return n == 0, nil
}

func (s *RedisSubmissionStore) ListByContentEpoch(ctx context.Context, contentID string, epochNumber uint64) ([]domain.Submission, error) {
	fields, err := s.client.HGetAll(ctx, bucketKey(contentID, epochNumber)).Result()
	if err != nil {
		return nil, err
	}

	var settledAt *time.Time
	nanos, err := s.client.Get(ctx, settledKey(contentID, epochNumber)).Int64()
	switch {
	case errors.Is(err, goredis.Nil):
	case err != nil:
		return nil, err
	default:
		t := fromUnixNano(nanos)
		settledAt = &t
	}

	subs := make([]domain.Submission, 0, len(fields))
	for participant, raw := range fields {
		var sub domain.Submission
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			return nil, fmt.Errorf("decode submission %s: %w", participant, err)
		}
		sub.SettledAt = settledAt
		subs = append(subs, sub)
	}
	sortSubmissions(subs)
	return subs, nil
}

func (s *RedisSubmissionStore) ListPending(ctx context.Context, upToEpoch uint64) ([]domain.PendingSettlement, error) {
	members, err := s.client.ZRangeByScore(ctx, redisPendingKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatUint(upToEpoch, 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	set := make(map[domain.PendingSettlement]bool, len(members))
	for _, m := range members {
		p, err := parsePendingMember(m)
		if err != nil {
			return nil, err
		}
		set[p] = true
	}
	return sortPending(set), nil
}

func (s *RedisSubmissionStore) MarkSettled(ctx context.Context, contentID string, epochNumber uint64, at time.Time) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SetNX(ctx, settledKey(contentID, epochNumber), toUnixNano(at), 0)
		pipe.ZRem(ctx, redisPendingKey, pendingMember(contentID, epochNumber))
		return nil
	})
	return err
}

func sortSubmissions(subs []domain.Submission) {
	sort.Slice(subs, func(i, j int) bool { return subs[i].ParticipantID < subs[j].ParticipantID })
}
