package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"xp-integrity-service/internal/domain"
)

const globalRankingKey = "lb:points"

// LeaderboardStore keeps leaderboard documents as JSON with version-checked
// writes (WATCH/MULTI) and maintains sorted sets for rankings:
//
//	lb:doc:{actorID}            JSON document
//	lb:points                   global ranking by total points
//	lb:points:region:{region}   regional ranking
type LeaderboardStore struct {
	client *redis.Client
}

func NewLeaderboardStore(client *redis.Client) *LeaderboardStore {
	return &LeaderboardStore{client: client}
}

func (s *LeaderboardStore) Get(ctx context.Context, actorID string) (domain.LeaderboardDocument, bool, error) {
	doc, found, err := readDocument(ctx, s.client, actorID)
	if err != nil {
		return domain.LeaderboardDocument{}, false, err
	}
	return doc, found, nil
}

// CompareAndSwap writes doc when the stored version equals expected. A
// concurrent write between WATCH and EXEC also counts as a conflict.
func (s *LeaderboardStore) CompareAndSwap(ctx context.Context, doc domain.LeaderboardDocument, expected int64) (domain.LeaderboardDocument, error) {
	key := documentKey(doc.ActorID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, found, err := readDocument(ctx, tx, doc.ActorID)
		if err != nil {
			return err
		}
		if (found && current.Version != expected) || (!found && expected != 0) {
			return domain.ErrVersionConflict
		}

		doc.Version = expected + 1
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode leaderboard document: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			score := redis.Z{Score: float64(doc.TotalPoints), Member: doc.ActorID}
			pipe.ZAdd(ctx, globalRankingKey, score)
			if found && current.Region != "" && current.Region != doc.Region {
				pipe.ZRem(ctx, regionRankingKey(current.Region), doc.ActorID)
			}
			if doc.Region != "" {
				pipe.ZAdd(ctx, regionRankingKey(doc.Region), score)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return domain.LeaderboardDocument{}, domain.ErrVersionConflict
	}
	if err != nil {
		return domain.LeaderboardDocument{}, err
	}
	return doc, nil
}

// Top ranks by total points; an empty region ranks everyone.
func (s *LeaderboardStore) Top(ctx context.Context, region string, limit int) ([]domain.LeaderboardEntry, error) {
	key := globalRankingKey
	if region != "" {
		key = regionRankingKey(region)
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	rows, err := s.client.ZRevRangeWithScores(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read ranking: %w", err)
	}
	entries := make([]domain.LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		actorID, _ := row.Member.(string)
		entries = append(entries, domain.LeaderboardEntry{Rank: i + 1, ActorID: actorID, TotalPoints: int(row.Score)})
	}
	return entries, nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readDocument(ctx context.Context, c getter, actorID string) (domain.LeaderboardDocument, bool, error) {
	raw, err := c.Get(ctx, documentKey(actorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.LeaderboardDocument{}, false, nil
	}
	if err != nil {
		return domain.LeaderboardDocument{}, false, fmt.Errorf("read leaderboard document: %w", err)
	}
	var doc domain.LeaderboardDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.LeaderboardDocument{}, false, fmt.Errorf("decode leaderboard document: %w", err)
	}
	return doc, true, nil
}

func documentKey(actorID string) string {
	return "lb:doc:" + actorID
}

func regionRankingKey(region string) string {
	return globalRankingKey + ":region:" + region
}
