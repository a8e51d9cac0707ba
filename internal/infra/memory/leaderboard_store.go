package memory

import (
	"context"
	"sort"
	"sync"

	"xp-integrity-service/internal/domain"
)

// LeaderboardStore is an in-memory implementation of app.LeaderboardRepository
// with version-checked writes.
type LeaderboardStore struct {
	mu   sync.RWMutex
	docs map[string]domain.LeaderboardDocument
}

func NewLeaderboardStore() *LeaderboardStore {
	return &LeaderboardStore{docs: make(map[string]domain.LeaderboardDocument)}
}

func (s *LeaderboardStore) Get(_ context.Context, actorID string) (domain.LeaderboardDocument, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[actorID]
	if !ok {
		return domain.LeaderboardDocument{}, false, nil
	}
	return cloneDocument(doc), true, nil
}

// CompareAndSwap stores doc if the current version equals expected; a missing
// document has version zero.
func (s *LeaderboardStore) CompareAndSwap(_ context.Context, doc domain.LeaderboardDocument, expected int64) (domain.LeaderboardDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.docs[doc.ActorID]
	if (ok && current.Version != expected) || (!ok && expected != 0) {
		return domain.LeaderboardDocument{}, domain.ErrVersionConflict
	}
	doc.Version = expected + 1
	s.docs[doc.ActorID] = cloneDocument(doc)
	return doc, nil
}

// Top ranks documents by total points; an empty region ranks everyone.
func (s *LeaderboardStore) Top(_ context.Context, region string, limit int) ([]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]domain.LeaderboardDocument, 0, len(s.docs))
	for _, doc := range s.docs {
		if region != "" && doc.Region != region {
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].TotalPoints != docs[j].TotalPoints {
			return docs[i].TotalPoints > docs[j].TotalPoints
		}
		return docs[i].ActorID < docs[j].ActorID
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}

	entries := make([]domain.LeaderboardEntry, 0, len(docs))
	for i, doc := range docs {
		entries = append(entries, domain.LeaderboardEntry{Rank: i + 1, ActorID: doc.ActorID, TotalPoints: doc.TotalPoints})
	}
	return entries, nil
}

func cloneDocument(doc domain.LeaderboardDocument) domain.LeaderboardDocument {
	if doc.SubjectPoints != nil {
		subjects := make(map[string]int, len(doc.SubjectPoints))
		for k, v := range doc.SubjectPoints {
			subjects[k] = v
		}
		doc.SubjectPoints = subjects
	}
	return doc
}
