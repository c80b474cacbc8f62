package search

import (
	"context"

	"github.com/rs/zerolog"

	"brandlift/api/internal/store"
)

// Service is the facade that tries the index first and falls back to the store.
type Service struct {
	primary  Backend
	fallback Searcher
	log      zerolog.Logger
	// async dispatches index writes; tests replace it to run inline.
	async func(func())
}

// NewService creates a search service. primary may be nil if Meilisearch is not configured.
func NewService(primary Backend, fallback Searcher, log zerolog.Logger) *Service {
	return &Service{
		primary:  primary,
		fallback: fallback,
		log:      log.With().Str("component", "search").Logger(),
		async:    func(fn func()) { go fn() },
	}
}

// Search tries the index if healthy, otherwise falls back to the store.
func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.log.Warn().Err(err).Msg("index search failed, falling back to store")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.log.Error().Err(err).Msg("store search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: "store"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "store"}
}

// IndexStudy pushes a study to the index without blocking the caller.
func (s *Service) IndexStudy(st store.Study) {
	if s == nil || s.primary == nil || !s.primary.Healthy() {
		return
	}
	rec := RecordFromStudy(st)
	s.async(func() {
		if err := s.primary.IndexStudy(rec); err != nil {
			s.log.Warn().Err(err).Str("study_id", rec.ID).Msg("index study")
		}
	})
}

// Reindex loads every study from the store and pushes it to the index.
func (s *Service) Reindex(ctx context.Context, reader store.Reader) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	studies, err := reader.ListStudies(ctx, store.StudyFilter{})
	if err != nil {
		s.log.Warn().Err(err).Msg("reindex load failed")
		return
	}
	recs := make([]StudyRecord, 0, len(studies))
	for _, st := range studies {
		recs = append(recs, RecordFromStudy(st))
	}
	if err := s.primary.IndexStudies(recs); err != nil {
		s.log.Warn().Err(err).Msg("reindex studies")
		return
	}
	s.log.Info().Int("count", len(recs)).Msg("studies reindexed")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
