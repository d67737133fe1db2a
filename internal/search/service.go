package search

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/helanludovic-commits/middleware-journea/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Service tries Meilisearch first and falls back to the identity store.
type Service struct {
	meili    *Meili
	fallback PersonSearcher
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback PersonSearcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, fallback: fallback, logger: logger}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to postgres", zap.Error(err))
	}

	persons, total, err := s.fallback.SearchPersons(ctx, store.PersonQuery{
		Text:     q.Text,
		TenantID: q.TenantID,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
	if err != nil {
		s.logger.Error("client search fallback failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Source: "postgres"}
	}
	results := make([]Result, 0, len(persons))
	for _, p := range persons {
		results = append(results, resultFromPerson(p))
	}
	return Response{Results: results, Total: total, Query: q.Text, Source: "postgres"}
}

// IndexPerson pushes a person to Meilisearch without blocking the caller.
func (s *Service) IndexPerson(p store.Person) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	rec := RecordFromPerson(p)
	go func() {
		if err := s.meili.IndexClient(rec); err != nil {
			s.logger.Warn("index client", zap.String("person_id", rec.ID), zap.Error(err))
		}
	}()
}

// Reindex loads every person through the fallback store and bulk-indexes them.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.meili == nil || !s.meili.Healthy() {
		return 0, nil
	}
	const page = 500
	indexed := 0
	for offset := 0; ; offset += page {
		persons, _, err := s.fallback.SearchPersons(ctx, store.PersonQuery{Limit: page, Offset: offset})
		if err != nil {
			return indexed, err
		}
		records := make([]ClientRecord, 0, len(persons))
		for _, p := range persons {
			records = append(records, RecordFromPerson(p))
		}
		if err := s.meili.IndexClients(records); err != nil {
			return indexed, err
		}
		indexed += len(records)
		if len(persons) < page {
			return indexed, nil
		}
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
