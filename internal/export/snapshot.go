package export

import (
	"context"
	"fmt"
	"time"

	"brandlift/api/internal/store"
)

// BuildSnapshot reads a study with its questions and options in display order.
func BuildSnapshot(ctx context.Context, r store.Reader, studyID string) (Snapshot, error) {
	st, err := r.GetStudy(ctx, studyID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get study: %w", err)
	}
	questions, err := r.ListQuestions(ctx, studyID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list questions: %w", err)
	}
	options, err := r.ListOptionsByStudy(ctx, studyID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list options: %w", err)
	}
	return Assemble(st, questions, options, time.Now().UTC()), nil
}

// Assemble groups options under their questions. Inputs must already be sorted by order.
func Assemble(st store.Study, questions []store.Question, options []store.Option, at time.Time) Snapshot {
	byQuestion := make(map[string][]SnapshotOption, len(questions))
	for _, o := range options {
		byQuestion[o.QuestionID] = append(byQuestion[o.QuestionID], SnapshotOption{
			ID:       o.ID,
			Text:     o.Text,
			ImageURL: o.ImageURL,
			Order:    o.Order,
		})
	}

	secondary := st.SecondaryKPIs
	if secondary == nil {
		secondary = []string{}
	}
	snap := Snapshot{
		Study: SnapshotStudy{
			ID:                  st.ID,
			OrgID:               st.OrgID,
			CampaignID:          st.CampaignID,
			Name:                st.Name,
			Status:              string(st.Status),
			FunnelStage:         st.FunnelStage,
			PrimaryKPI:          st.PrimaryKPI,
			SecondaryKPIs:       secondary,
			VendorProjectID:     st.VendorProjectID,
			VendorTargetGroupID: st.VendorTargetGroupID,
		},
		Questions:        make([]SnapshotQuestion, 0, len(questions)),
		StructureVersion: st.StructureVersion,
		ExportedAt:       at,
	}
	for _, q := range questions {
		opts := byQuestion[q.ID]
		if opts == nil {
			opts = []SnapshotOption{}
		}
		snap.Questions = append(snap.Questions, SnapshotQuestion{
			ID:             q.ID,
			Text:           q.Text,
			QuestionType:   string(q.Type),
			Order:          q.Order,
			IsRandomized:   q.IsRandomized,
			IsMandatory:    q.IsMandatory,
			KPIAssociation: q.KPIAssociation,
			Options:        opts,
		})
	}
	return snap
}
