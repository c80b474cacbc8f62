package search

import (
	"context"
	"time"

	"brandlift/api/internal/store"
	"brandlift/api/internal/study"
)

// StoreSearch answers queries from the primary store when Meilisearch is
// absent or unhealthy.
type StoreSearch struct {
	reader  store.Reader
	timeout time.Duration
}

func NewStoreSearch(reader store.Reader) *StoreSearch {
	return &StoreSearch{reader: reader, timeout: 5 * time.Second}
}

func (s *StoreSearch) Healthy() bool {
	return s.reader != nil
}

func (s *StoreSearch) Search(q Query) ([]Result, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	studies, err := s.reader.SearchStudies(ctx, store.StudySearch{
		StudyFilter: store.StudyFilter{OrgID: q.OrgID, Status: study.Status(q.Status), Limit: limit},
		Text:        q.Text,
	})
	if err != nil {
		return nil, 0, err
	}
	results := make([]Result, 0, len(studies))
	for _, st := range studies {
		results = append(results, Result{
			ID:         st.ID,
			OrgID:      st.OrgID,
			Name:       st.Name,
			Status:     string(st.Status),
			PrimaryKPI: st.PrimaryKPI,
			KPIs:       st.SecondaryKPIs,
		})
	}
	return results, len(results), nil
}

// RecordFromStudy maps a stored study onto its index document.
func RecordFromStudy(st store.Study) StudyRecord {
	return StudyRecord{
		ID:            st.ID,
		OrgID:         st.OrgID,
		Name:          st.Name,
		Status:        string(st.Status),
		FunnelStage:   st.FunnelStage,
		PrimaryKPI:    st.PrimaryKPI,
		SecondaryKPIs: st.SecondaryKPIs,
		UpdatedAt:     timestamp(st.UpdatedAt),
	}
}
