package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandlift/api/internal/study"
)

func seedStudy(t *testing.T, s *MemoryStore, id, orgID string) {
	t.Helper()
	now := time.Now().UTC()
	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.InsertStudy(context.Background(), Study{
			ID: id, OrgID: orgID, Name: "Study " + id, Status: study.StatusDraft,
			CreatedBy: "usr_1", CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)
}

func seedQuestion(t *testing.T, s *MemoryStore, id, studyID string, order int) {
	t.Helper()
	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.InsertQuestion(context.Background(), Question{
			ID: id, StudyID: studyID, Text: "Q " + id, Type: study.QuestionSingleChoice, Order: order,
		})
	})
	require.NoError(t, err)
}

func seedOption(t *testing.T, s *MemoryStore, id, questionID string, order int) {
	t.Helper()
	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.InsertOption(context.Background(), Option{ID: id, QuestionID: questionID, Text: "O " + id, Order: order})
	})
	require.NoError(t, err)
}

func TestMemoryStoreRollsBackFailedTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedStudy(t, s, "std_1", "org_1")
	seedQuestion(t, s, "q_1", "std_1", 0)
	seedQuestion(t, s, "q_2", "std_1", 1)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.SetQuestionOrder(ctx, "q_1", 1))
		require.NoError(t, tx.SetQuestionOrder(ctx, "q_2", 0))
		_, err := tx.BumpStructureVersion(ctx, "std_1")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	questions, err := s.ListQuestions(ctx, "std_1")
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "q_1", questions[0].ID)
	assert.Equal(t, 0, questions[0].Order)
	assert.Equal(t, "q_2", questions[1].ID)

	got, err := s.GetStudy(ctx, "std_1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.StructureVersion)
}

func TestMemoryStoreCommitsSuccessfulTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedStudy(t, s, "std_1", "org_1")
	seedQuestion(t, s, "q_1", "std_1", 0)
	seedQuestion(t, s, "q_2", "std_1", 1)

	err := s.InTx(ctx, func(tx Tx) error {
		if _, err := tx.BumpStructureVersion(ctx, "std_1"); err != nil {
			return err
		}
		if err := tx.SetQuestionOrder(ctx, "q_1", 1); err != nil {
			return err
		}
		return tx.SetQuestionOrder(ctx, "q_2", 0)
	})
	require.NoError(t, err)

	questions, err := s.ListQuestions(ctx, "std_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"q_2", "q_1"}, []string{questions[0].ID, questions[1].ID})

	got, err := s.GetStudy(ctx, "std_1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.StructureVersion)
}

func TestMemoryStoreDeleteQuestionCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedStudy(t, s, "std_1", "org_1")
	seedQuestion(t, s, "q_1", "std_1", 0)
	seedOption(t, s, "o_1", "q_1", 0)
	seedOption(t, s, "o_2", "q_1", 1)
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		return tx.InsertComment(ctx, Comment{ID: "c_1", StudyID: "std_1", QuestionID: "q_1", Text: "wording", Status: CommentOpen})
	}))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.DeleteQuestion(ctx, "q_1") }))

	_, err := s.GetOption(ctx, "o_1")
	require.ErrorIs(t, err, ErrNotFound)
	options, err := s.ListOptionsByStudy(ctx, "std_1")
	require.NoError(t, err)
	assert.Empty(t, options)

	comment, err := s.GetComment(ctx, "c_1")
	require.NoError(t, err)
	assert.Empty(t, comment.QuestionID)
}

func TestMemoryStoreSetStudyStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedStudy(t, s, "std_1", "org_1")

	err := s.InTx(ctx, func(tx Tx) error {
		return tx.SetStudyStatus(ctx, "std_1", study.StatusPendingApproval, study.StatusApproved)
	})
	require.ErrorIs(t, err, ErrConflict)

	err = s.InTx(ctx, func(tx Tx) error {
		return tx.SetStudyStatus(ctx, "std_1", study.StatusDraft, study.StatusPendingApproval)
	})
	require.NoError(t, err)

	got, err := s.GetStudy(ctx, "std_1")
	require.NoError(t, err)
	assert.Equal(t, study.StatusPendingApproval, got.Status)
}

func TestMemoryStoreResolveOwnership(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedStudy(t, s, "std_1", "org_1")
	seedQuestion(t, s, "q_1", "std_1", 0)
	seedOption(t, s, "o_1", "q_1", 0)

	path, err := s.ResolveOwnership(ctx, KindOption, "o_1")
	require.NoError(t, err)
	assert.Equal(t, OwnershipPath{
		Kind: KindOption, OrgID: "org_1", StudyID: "std_1", StudyStatus: study.StatusDraft,
		QuestionID: "q_1", OptionID: "o_1",
	}, path)

	_, err = s.ResolveOwnership(ctx, KindQuestion, "q_missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreParentsOfSkipsUnknownIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedStudy(t, s, "std_1", "org_1")
	seedStudy(t, s, "std_2", "org_1")
	seedQuestion(t, s, "q_1", "std_1", 0)
	seedQuestion(t, s, "q_2", "std_2", 0)

	parents, err := s.ParentsOf(ctx, KindQuestion, []string{"q_1", "q_2", "q_ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"q_1": "std_1", "q_2": "std_2"}, parents)
}

func TestMemoryStoreReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		return tx.InsertStudy(ctx, Study{ID: "std_1", OrgID: "org_1", Status: study.StatusDraft, SecondaryKPIs: []string{"recall"}, CreatedAt: now})
	}))

	got, err := s.GetStudy(ctx, "std_1")
	require.NoError(t, err)
	got.SecondaryKPIs[0] = "mutated"

	again, err := s.GetStudy(ctx, "std_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"recall"}, again.SecondaryKPIs)
}

func TestCheckQuestionOrderReportsConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedStudy(t, s, "std_1", "org_1")
	seedQuestion(t, s, "q_1", "std_1", 0)

	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertQuestion(ctx, Question{ID: "q_2", StudyID: "std_1", Order: 0}); err != nil {
			return err
		}
		return CheckQuestionOrder(ctx, tx, "std_1", "q_2", 0)
	})
	var conflict *OrderConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "q_1", conflict.ConflictingID)

	_, err = s.GetQuestion(ctx, "q_2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListEventsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedStudy(t, s, "std_1", "org_1")
	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		id := id
		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			return tx.InsertEvent(ctx, StudyEvent{ID: id, StudyID: "std_1", Kind: EventStudyUpdated})
		}))
	}

	events, err := s.ListEvents(ctx, "std_1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt_3", events[0].ID)
	assert.Equal(t, "evt_2", events[1].ID)
}

func TestListStudiesFiltersByOrg(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedStudy(t, s, "std_1", "org_1")
	seedStudy(t, s, "std_2", "org_2")

	studies, err := s.ListStudies(ctx, StudyFilter{OrgID: "org_2"})
	require.NoError(t, err)
	require.Len(t, studies, 1)
	assert.Equal(t, "std_2", studies[0].ID)

	found, err := s.SearchStudies(ctx, StudySearch{StudyFilter: StudyFilter{OrgID: "org_1", Limit: 10}, Text: "study std_1"})
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestMemoryStoreSignOffUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedStudy(t, s, "std_1", "org_1")

	_, err := s.GetSignOff(ctx, "std_1")
	require.ErrorIs(t, err, ErrNotFound)

	requested := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		return tx.SaveSignOff(ctx, SignOff{StudyID: "std_1", RequestedBy: "usr_1", RequestedName: "Ed", RequestedAt: requested})
	}))

	signed := requested.Add(time.Hour)
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		so, err := tx.GetSignOff(ctx, "std_1")
		if err != nil {
			return err
		}
		so.SignedOffBy = "usr_2"
		so.SignedOffAt = &signed
		return tx.SaveSignOff(ctx, so)
	}))

	got, err := s.GetSignOff(ctx, "std_1")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", got.RequestedBy)
	assert.Equal(t, "usr_2", got.SignedOffBy)
	require.NotNil(t, got.SignedOffAt)
	assert.True(t, signed.Equal(*got.SignedOffAt))

	err = s.InTx(ctx, func(tx Tx) error {
		return tx.SaveSignOff(ctx, SignOff{StudyID: "std_missing", RequestedBy: "usr_1", RequestedAt: requested})
	})
	require.ErrorIs(t, err, ErrNotFound)
}
