package search

import "time"

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string   `json:"id"`
	OrgID      string   `json:"orgId"`
	Name       string   `json:"name"`
	Status     string   `json:"status"`
	PrimaryKPI string   `json:"primaryKpi,omitempty"`
	KPIs       []string `json:"secondaryKpis,omitempty"`
	Snippet    string   `json:"snippet,omitempty"`
}

// Query describes a search request. An empty OrgID searches every tenant
// and is only built for super admins.
type Query struct {
	Text   string
	OrgID  string
	Status string
	Limit  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a study search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Backend is a searcher that also accepts index writes.
type Backend interface {
	Searcher
	IndexStudy(rec StudyRecord) error
	IndexStudies(recs []StudyRecord) error
}

// StudyRecord is the data we index for a study.
type StudyRecord struct {
	ID            string   `json:"id"`
	OrgID         string   `json:"orgId"`
	Name          string   `json:"name"`
	Status        string   `json:"status"`
	FunnelStage   string   `json:"funnelStage,omitempty"`
	PrimaryKPI    string   `json:"primaryKpi,omitempty"`
	SecondaryKPIs []string `json:"secondaryKpis,omitempty"`
	UpdatedAt     int64    `json:"updatedAt"`
}

func timestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
