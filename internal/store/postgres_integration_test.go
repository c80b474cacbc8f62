//go:build integration

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"brandlift/api/internal/study"
)

func setupPostgres(t *testing.T, ctx context.Context) *PostgresStore {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "brandlift",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := NewPool(ctx, PoolConfig{
		ConnString: fmt.Sprintf("postgres://test:test@%s:%s/brandlift?sslmode=disable", host, port.Port()),
		MaxConns:   4,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, ApplyMigrations(ctx, pool, zerolog.Nop()))
	return NewPostgresStore(pool)
}

func TestIntegration_PostgresStructureLifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t, ctx)
	now := time.Now().UTC()

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertStudy(ctx, Study{
			ID: "std_1", OrgID: "org_1", Name: "Spring launch", Status: study.StatusDraft,
			SecondaryKPIs: []string{"recall"}, CreatedBy: "usr_1", CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		for i, id := range []string{"q_1", "q_2", "q_3"} {
			if err := tx.InsertQuestion(ctx, Question{
				ID: id, StudyID: "std_1", Text: id, Type: study.QuestionSingleChoice, Order: i, CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return err
			}
		}
		return tx.InsertOption(ctx, Option{ID: "o_1", QuestionID: "q_1", Text: "Yes", Order: 0, CreatedAt: now, UpdatedAt: now})
	}))

	t.Run("reorder commits atomically", func(t *testing.T) {
		err := s.InTx(ctx, func(tx Tx) error {
			if _, err := tx.BumpStructureVersion(ctx, "std_1"); err != nil {
				return err
			}
			if err := tx.SetQuestionOrder(ctx, "q_1", 2); err != nil {
				return err
			}
			return tx.SetQuestionOrder(ctx, "q_3", 0)
		})
		require.NoError(t, err)

		questions, err := s.ListQuestions(ctx, "std_1")
		require.NoError(t, err)
		assert.Equal(t, "q_3", questions[0].ID)
		assert.Equal(t, "q_1", questions[2].ID)
	})

	t.Run("failed reorder rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.InTx(ctx, func(tx Tx) error {
			if err := tx.SetQuestionOrder(ctx, "q_2", 9); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		q, err := s.GetQuestion(ctx, "q_2")
		require.NoError(t, err)
		assert.Equal(t, 1, q.Order)
	})

	t.Run("ownership resolves through joins", func(t *testing.T) {
		path, err := s.ResolveOwnership(ctx, KindOption, "o_1")
		require.NoError(t, err)
		assert.Equal(t, "org_1", path.OrgID)
		assert.Equal(t, "q_1", path.QuestionID)
		assert.Equal(t, study.StatusDraft, path.StudyStatus)
	})

	t.Run("status compare and set", func(t *testing.T) {
		err := s.InTx(ctx, func(tx Tx) error {
			return tx.SetStudyStatus(ctx, "std_1", study.StatusApproved, study.StatusCollecting)
		})
		require.ErrorIs(t, err, ErrConflict)
	})

	t.Run("delete question cascades options", func(t *testing.T) {
		require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.DeleteQuestion(ctx, "q_1") }))
		_, err := s.GetOption(ctx, "o_1")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestIntegration_StudyEventsAreImmutable(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t, ctx)

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		return tx.InsertEvent(ctx, StudyEvent{
			ID: "evt_1", StudyID: "std_1", ActorID: "usr_1", Kind: EventStatusChanged,
			FromStatus: "DRAFT", ToStatus: "PENDING_APPROVAL", Detail: map[string]any{"reason": "ready"},
		})
	}))

	_, err := s.Pool().Exec(ctx, `UPDATE study_events SET kind = 'X' WHERE id = 'evt_1'`)
	require.ErrorIs(t, mapPostgresError(err), ErrImmutable)

	_, err = s.Pool().Exec(ctx, `DELETE FROM study_events WHERE id = 'evt_1'`)
	require.ErrorIs(t, mapPostgresError(err), ErrImmutable)

	events, err := s.ListEvents(ctx, "std_1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ready", events[0].Detail["reason"])
}
