package store

import (
	"context"
	"errors"
	"fmt"

	"brandlift/api/internal/study"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a concurrent change detected by the store, such as a
	// status compare-and-set that lost or a serialization failure.
	ErrConflict = errors.New("concurrent modification")
)

// OrderConflictError is returned when an insert leaves two siblings sharing an order.
type OrderConflictError struct {
	Kind          Kind
	ParentID      string
	Order         int
	ConflictingID string
}

func (e *OrderConflictError) Error() string {
	return fmt.Sprintf("%s order %d already used by %s under %s", e.Kind, e.Order, e.ConflictingID, e.ParentID)
}

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	GetStudy(ctx context.Context, id string) (Study, error)
	ListStudies(ctx context.Context, filter StudyFilter) ([]Study, error)
	SearchStudies(ctx context.Context, search StudySearch) ([]Study, error)
	GetQuestion(ctx context.Context, id string) (Question, error)
	ListQuestions(ctx context.Context, studyID string) ([]Question, error)
	CountQuestions(ctx context.Context, studyID string) (int, error)
	GetOption(ctx context.Context, id string) (Option, error)
	ListOptions(ctx context.Context, questionID string) ([]Option, error)
	ListOptionsByStudy(ctx context.Context, studyID string) ([]Option, error)
	ResolveOwnership(ctx context.Context, kind Kind, id string) (OwnershipPath, error)
	// ParentsOf maps each existing question or option id to its direct parent id.
	ParentsOf(ctx context.Context, kind Kind, ids []string) (map[string]string, error)
	GetComment(ctx context.Context, id string) (Comment, error)
	ListComments(ctx context.Context, studyID string) ([]Comment, error)
	ListEvents(ctx context.Context, studyID string, limit int) ([]StudyEvent, error)
	// GetSignOff returns ErrNotFound until sign-off has been requested.
	GetSignOff(ctx context.Context, studyID string) (SignOff, error)
}

// Tx is a unit of work; nothing it writes is visible until InTx returns nil.
type Tx interface {
	Reader
	InsertStudy(ctx context.Context, s Study) error
	UpdateStudy(ctx context.Context, s Study) error
	// SetStudyStatus moves id from one status to another, failing with
	// ErrConflict when the stored status is no longer from.
	SetStudyStatus(ctx context.Context, id string, from, to study.Status) error
	// BumpStructureVersion increments and returns the study's structure version.
	BumpStructureVersion(ctx context.Context, studyID string) (int, error)
	InsertQuestion(ctx context.Context, q Question) error
	UpdateQuestion(ctx context.Context, q Question) error
	DeleteQuestion(ctx context.Context, id string) error
	SetQuestionOrder(ctx context.Context, id string, order int) error
	InsertOption(ctx context.Context, o Option) error
	UpdateOption(ctx context.Context, o Option) error
	DeleteOption(ctx context.Context, id string) error
	SetOptionOrder(ctx context.Context, id string, order int) error
	InsertComment(ctx context.Context, c Comment) error
	UpdateComment(ctx context.Context, c Comment) error
	InsertEvent(ctx context.Context, e StudyEvent) error
	// SaveSignOff inserts or replaces the study's sign-off record.
	SaveSignOff(ctx context.Context, s SignOff) error
}

type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

// CheckQuestionOrder returns an *OrderConflictError if more than one question
// of studyID holds order. Called after an insert, inside the same transaction.
func CheckQuestionOrder(ctx context.Context, r Reader, studyID, insertedID string, order int) error {
	questions, err := r.ListQuestions(ctx, studyID)
	if err != nil {
		return err
	}
	for _, q := range questions {
		if q.Order == order && q.ID != insertedID {
			return &OrderConflictError{Kind: KindQuestion, ParentID: studyID, Order: order, ConflictingID: q.ID}
		}
	}
	return nil
}

// CheckOptionOrder is CheckQuestionOrder scoped to a question's options.
func CheckOptionOrder(ctx context.Context, r Reader, questionID, insertedID string, order int) error {
	options, err := r.ListOptions(ctx, questionID)
	if err != nil {
		return err
	}
	for _, o := range options {
		if o.Order == order && o.ID != insertedID {
			return &OrderConflictError{Kind: KindOption, ParentID: questionID, Order: order, ConflictingID: o.ID}
		}
	}
	return nil
}
