package app

import (
	"time"

	"brandlift/api/internal/store"
	"brandlift/api/internal/study"
)

type StudyView struct {
	ID                  string       `json:"id"`
	OrgID               string       `json:"orgId"`
	CampaignID          string       `json:"campaignId,omitempty"`
	Name                string       `json:"name"`
	Status              study.Status `json:"status"`
	StatusLabel         string       `json:"statusLabel"`
	FunnelStage         string       `json:"funnelStage,omitempty"`
	PrimaryKPI          string       `json:"primaryKpi,omitempty"`
	SecondaryKPIs       []string     `json:"secondaryKpis"`
	VendorProjectID     string       `json:"vendorProjectId,omitempty"`
	VendorTargetGroupID string       `json:"vendorTargetGroupId,omitempty"`
	StructureVersion    int          `json:"structureVersion"`
	CreatedBy           string       `json:"createdBy"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// StudyDetail is a study with its structure counts and next legal statuses.
type StudyDetail struct {
	StudyView
	QuestionCount      int            `json:"questionCount"`
	OptionCount        int            `json:"optionCount"`
	OpenCommentCount   int            `json:"openCommentCount"`
	AllowedTransitions []study.Status `json:"allowedTransitions"`
	Editable           bool           `json:"editable"`
}

type QuestionView struct {
	ID             string             `json:"id"`
	StudyID        string             `json:"studyId"`
	Text           string             `json:"text"`
	QuestionType   study.QuestionType `json:"questionType"`
	Order          int                `json:"order"`
	IsRandomized   bool               `json:"isRandomized"`
	IsMandatory    bool               `json:"isMandatory"`
	KPIAssociation string             `json:"kpiAssociation,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

type OptionView struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"questionId"`
	Text       string    `json:"text"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	Order      int       `json:"order"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type CommentView struct {
	ID         string     `json:"id"`
	StudyID    string     `json:"studyId"`
	QuestionID string     `json:"questionId,omitempty"`
	AuthorID   string     `json:"authorId"`
	AuthorName string     `json:"authorName"`
	Text       string     `json:"text"`
	Status     string     `json:"status"`
	ResolvedBy string     `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type EventView struct {
	ID         string         `json:"id"`
	StudyID    string         `json:"studyId"`
	ActorID    string         `json:"actorId"`
	Kind       string         `json:"kind"`
	FromStatus string         `json:"fromStatus,omitempty"`
	ToStatus   string         `json:"toStatus,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// ReorderResult is the parent's full ordered child list after a reorder.
type ReorderResult struct {
	ParentID         string         `json:"parentId"`
	StructureVersion int            `json:"structureVersion"`
	Changed          int            `json:"changed"`
	HasGaps          bool           `json:"hasGaps"`
	Questions        []QuestionView `json:"questions,omitempty"`
	Options          []OptionView   `json:"options,omitempty"`
}

func studyView(s store.Study) StudyView {
	secondary := s.SecondaryKPIs
	if secondary == nil {
		secondary = []string{}
	}
	return StudyView{
		ID:                  s.ID,
		OrgID:               s.OrgID,
		CampaignID:          s.CampaignID,
		Name:                s.Name,
		Status:              s.Status,
		StatusLabel:         s.Status.Label(),
		FunnelStage:         s.FunnelStage,
		PrimaryKPI:          s.PrimaryKPI,
		SecondaryKPIs:       secondary,
		VendorProjectID:     s.VendorProjectID,
		VendorTargetGroupID: s.VendorTargetGroupID,
		StructureVersion:    s.StructureVersion,
		CreatedBy:           s.CreatedBy,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

func questionView(q store.Question) QuestionView {
	return QuestionView{
		ID:             q.ID,
		StudyID:        q.StudyID,
		Text:           q.Text,
		QuestionType:   q.Type,
		Order:          q.Order,
		IsRandomized:   q.IsRandomized,
		IsMandatory:    q.IsMandatory,
		KPIAssociation: q.KPIAssociation,
		CreatedAt:      q.CreatedAt,
		UpdatedAt:      q.UpdatedAt,
	}
}

func optionView(o store.Option) OptionView {
	return OptionView{
		ID:         o.ID,
		QuestionID: o.QuestionID,
		Text:       o.Text,
		ImageURL:   o.ImageURL,
		Order:      o.Order,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func commentView(c store.Comment) CommentView {
	return CommentView{
		ID:         c.ID,
		StudyID:    c.StudyID,
		QuestionID: c.QuestionID,
		AuthorID:   c.AuthorID,
		AuthorName: c.AuthorName,
		Text:       c.Text,
		Status:     c.Status,
		ResolvedBy: c.ResolvedBy,
		ResolvedAt: c.ResolvedAt,
		CreatedAt:  c.CreatedAt,
	}
}

func eventView(e store.StudyEvent) EventView {
	return EventView{
		ID:         e.ID,
		StudyID:    e.StudyID,
		ActorID:    e.ActorID,
		Kind:       e.Kind,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		Detail:     e.Detail,
		CreatedAt:  e.CreatedAt,
	}
}

func questionViews(items []store.Question) []QuestionView {
	out := make([]QuestionView, 0, len(items))
	for _, q := range items {
		out = append(out, questionView(q))
	}
	return out
}

func optionViews(items []store.Option) []OptionView {
	out := make([]OptionView, 0, len(items))
	for _, o := range items {
		out = append(out, optionView(o))
	}
	return out
}
