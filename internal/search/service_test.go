package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandlift/api/internal/store"
	"brandlift/api/internal/study"
)

type fakeBackend struct {
	healthy bool
	results []Result
	err     error
	indexed []StudyRecord
}

func (f *fakeBackend) Search(Query) ([]Result, int, error) {
	return f.results, len(f.results), f.err
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) IndexStudy(rec StudyRecord) error {
	f.indexed = append(f.indexed, rec)
	return nil
}

func (f *fakeBackend) IndexStudies(recs []StudyRecord) error {
	f.indexed = append(f.indexed, recs...)
	return nil
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	now := time.Now().UTC()
	require.NoError(t, mem.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertStudy(ctx, store.Study{ID: "std_1", OrgID: "org_a", Name: "Spring awareness", PrimaryKPI: "ad recall", Status: study.StatusDraft, CreatedAt: now}); err != nil {
			return err
		}
		return tx.InsertStudy(ctx, store.Study{ID: "std_2", OrgID: "org_b", Name: "Spring consideration", Status: study.StatusDraft, CreatedAt: now})
	}))
	return mem
}

func inline(s *Service) *Service {
	s.async = func(fn func()) { fn() }
	return s
}

func TestSearchUsesHealthyIndex(t *testing.T) {
	backend := &fakeBackend{healthy: true, results: []Result{{ID: "std_9", Name: "from index"}}}
	svc := NewService(backend, NewStoreSearch(seededStore(t)), zerolog.Nop())

	resp := svc.Search(Query{Text: "spring", OrgID: "org_a"})
	assert.Equal(t, "meilisearch", resp.Backend)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "std_9", resp.Results[0].ID)
}

func TestSearchFallsBackWhenIndexUnhealthy(t *testing.T) {
	backend := &fakeBackend{healthy: false}
	svc := NewService(backend, NewStoreSearch(seededStore(t)), zerolog.Nop())

	resp := svc.Search(Query{Text: "spring", OrgID: "org_a"})
	assert.Equal(t, "store", resp.Backend)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "std_1", resp.Results[0].ID)
}

func TestSearchFallsBackOnIndexError(t *testing.T) {
	backend := &fakeBackend{healthy: true, err: errors.New("timeout")}
	svc := NewService(backend, NewStoreSearch(seededStore(t)), zerolog.Nop())

	resp := svc.Search(Query{Text: "recall", OrgID: "org_a"})
	assert.Equal(t, "store", resp.Backend)
	require.Len(t, resp.Results, 1)
}

func TestSearchWithoutIndexNeverReturnsNil(t *testing.T) {
	svc := NewService(nil, NewStoreSearch(seededStore(t)), zerolog.Nop())
	resp := svc.Search(Query{Text: "nothing matches", OrgID: "org_a"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestIndexStudyAndReindex(t *testing.T) {
	backend := &fakeBackend{healthy: true}
	mem := seededStore(t)
	svc := inline(NewService(backend, NewStoreSearch(mem), zerolog.Nop()))

	svc.IndexStudy(store.Study{ID: "std_x", OrgID: "org_a", Name: "Launch", Status: study.StatusApproved})
	require.Len(t, backend.indexed, 1)
	assert.Equal(t, "APPROVED", backend.indexed[0].Status)

	svc.Reindex(context.Background(), mem)
	assert.Len(t, backend.indexed, 3)
}

func TestIndexStudySkipsUnhealthyIndex(t *testing.T) {
	backend := &fakeBackend{healthy: false}
	svc := inline(NewService(backend, nil, zerolog.Nop()))
	svc.IndexStudy(store.Study{ID: "std_x"})
	assert.Empty(t, backend.indexed)
}

func TestBuildFilters(t *testing.T) {
	assert.Equal(t, []string{`orgId = "org_a"`, `status = "DRAFT"`}, buildFilters(Query{OrgID: "org_a", Status: "DRAFT"}))
	assert.Empty(t, buildFilters(Query{}))
}

func TestStoreSearchAppliesStatusBeforeLimit(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, mem.InTx(ctx, func(tx store.Tx) error {
		for i, st := range []store.Study{
			{ID: "std_old_1", Status: study.StatusApproved},
			{ID: "std_old_2", Status: study.StatusApproved},
			{ID: "std_new_1", Status: study.StatusDraft},
			{ID: "std_new_2", Status: study.StatusDraft},
			{ID: "std_new_3", Status: study.StatusDraft},
		} {
			st.OrgID = "org_a"
			st.Name = "Spring wave " + st.ID
			st.CreatedAt = base.Add(time.Duration(i) * time.Hour)
			if err := tx.InsertStudy(ctx, st); err != nil {
				return err
			}
		}
		return nil
	}))

	results, total, err := NewStoreSearch(mem).Search(Query{Text: "spring", OrgID: "org_a", Status: "APPROVED", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, results, 2)
	assert.Equal(t, "std_old_2", results[0].ID)
	assert.Equal(t, "std_old_1", results[1].ID)
}
