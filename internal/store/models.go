package store

import (
	"time"

	"brandlift/api/internal/study"
)

type Study struct {
	ID                  string
	OrgID               string
	CampaignID          string
	Name                string
	Status              study.Status
	FunnelStage         string
	PrimaryKPI          string
	SecondaryKPIs       []string
	VendorProjectID     string
	VendorTargetGroupID string
	StructureVersion    int
	CreatedBy           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Question struct {
	ID             string
	StudyID        string
	Text           string
	Type           study.QuestionType
	Order          int
	IsRandomized   bool
	IsMandatory    bool
	KPIAssociation string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Option struct {
	ID         string
	QuestionID string
	Text       string
	ImageURL   string
	Order      int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const (
	CommentOpen     = "OPEN"
	CommentResolved = "RESOLVED"
)

type Comment struct {
	ID         string
	StudyID    string
	QuestionID string
	AuthorID   string
	AuthorName string
	Text       string
	Status     string
	ResolvedBy string
	ResolvedAt *time.Time
	CreatedAt  time.Time
}

// SignOff is the client sign-off record kept next to an approved study. One
// per study; SignedOffAt is nil until a reviewer signs off.
type SignOff struct {
	StudyID       string
	RequestedBy   string
	RequestedName string
	RequestedAt   time.Time
	SignedOffBy   string
	SignedOffName string
	SignedOffAt   *time.Time
}

// StudyEvent is one append-only audit record.
type StudyEvent struct {
	ID         string
	StudyID    string
	ActorID    string
	Kind       string
	FromStatus string
	ToStatus   string
	Detail     map[string]any
	CreatedAt  time.Time
}

const (
	EventStudyCreated       = "STUDY_CREATED"
	EventStudyUpdated       = "STUDY_UPDATED"
	EventStudyDuplicated    = "STUDY_DUPLICATED"
	EventStatusChanged      = "STATUS_CHANGED"
	EventQuestionCreated    = "QUESTION_CREATED"
	EventQuestionUpdated    = "QUESTION_UPDATED"
	EventQuestionDeleted    = "QUESTION_DELETED"
	EventQuestionsReordered = "QUESTIONS_REORDERED"
	EventOptionCreated      = "OPTION_CREATED"
	EventOptionUpdated      = "OPTION_UPDATED"
	EventOptionDeleted      = "OPTION_DELETED"
	EventOptionsReordered   = "OPTIONS_REORDERED"
	EventCommentAdded       = "COMMENT_ADDED"
	EventCommentResolved    = "COMMENT_RESOLVED"
	EventSignOffRequested   = "SIGN_OFF_REQUESTED"
	EventSignedOff          = "SIGNED_OFF"
)

// Kind identifies an entity in the study ownership graph.
type Kind string

const (
	KindStudy    Kind = "study"
	KindQuestion Kind = "question"
	KindOption   Kind = "option"
	KindComment  Kind = "comment"
)

// OwnershipPath is the result of walking an entity up to its organization.
// Fields below the resolved kind are empty.
type OwnershipPath struct {
	Kind        Kind
	OrgID       string
	StudyID     string
	StudyStatus study.Status
	QuestionID  string
	OptionID    string
	CommentID   string
}

type StudyFilter struct {
	// OrgID restricts the listing to one tenant; empty lists every tenant.
	OrgID  string
	Status study.Status
	Limit  int
}

// StudySearch is a StudyFilter plus a case-insensitive text match on name and
// KPIs. Limit applies after every filter.
type StudySearch struct {
	StudyFilter
	Text string
}
