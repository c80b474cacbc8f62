package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"brandlift/api/internal/study"
)

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pgReader
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgReader: pgReader{q: pool}, pool: pool}
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&pgTx{pgReader: pgReader{q: tx}})
	})
	return mapPostgresError(err)
}

type pgReader struct {
	q queryer
}

const studyColumns = `
	s.id, s.org_id, COALESCE(s.campaign_id, ''), s.name, s.status,
	COALESCE(s.funnel_stage, ''), COALESCE(s.primary_kpi, ''), s.secondary_kpis,
	COALESCE(s.vendor_project_id, ''), COALESCE(s.vendor_target_group_id, ''),
	s.structure_version, s.created_by, s.created_at, s.updated_at`

const questionColumns = `
	q.id, q.study_id, q.text, q.type, q.sort_order, q.is_randomized, q.is_mandatory,
	COALESCE(q.kpi_association, ''), q.created_at, q.updated_at`

const optionColumns = `
	o.id, o.question_id, o.text, COALESCE(o.image_url, ''), o.sort_order, o.created_at, o.updated_at`

const commentColumns = `
	c.id, c.study_id, COALESCE(c.question_id, ''), c.author_id, c.author_name, c.text,
	c.status, COALESCE(c.resolved_by, ''), c.resolved_at, c.created_at`

func scanStudy(row pgx.Row) (Study, error) {
	var s Study
	var status string
	err := row.Scan(
		&s.ID, &s.OrgID, &s.CampaignID, &s.Name, &status,
		&s.FunnelStage, &s.PrimaryKPI, &s.SecondaryKPIs,
		&s.VendorProjectID, &s.VendorTargetGroupID,
		&s.StructureVersion, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt,
	)
	s.Status = study.Status(status)
	return s, err
}

func scanQuestion(row pgx.Row) (Question, error) {
	var q Question
	var questionType string
	err := row.Scan(
		&q.ID, &q.StudyID, &q.Text, &questionType, &q.Order, &q.IsRandomized, &q.IsMandatory,
		&q.KPIAssociation, &q.CreatedAt, &q.UpdatedAt,
	)
	q.Type = study.QuestionType(questionType)
	return q, err
}

func scanOption(row pgx.Row) (Option, error) {
	var o Option
	err := row.Scan(&o.ID, &o.QuestionID, &o.Text, &o.ImageURL, &o.Order, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment
	err := row.Scan(
		&c.ID, &c.StudyID, &c.QuestionID, &c.AuthorID, &c.AuthorName, &c.Text,
		&c.Status, &c.ResolvedBy, &c.ResolvedAt, &c.CreatedAt,
	)
	return c, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, mapPostgresError(err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}
	return out, nil
}

func (r pgReader) GetStudy(ctx context.Context, id string) (Study, error) {
	s, err := scanStudy(r.q.QueryRow(ctx, `SELECT `+studyColumns+` FROM studies s WHERE s.id = $1`, id))
	if err != nil {
		return Study{}, fmt.Errorf("get study %s: %w", id, mapPostgresError(err))
	}
	return s, nil
}

func (r pgReader) ListStudies(ctx context.Context, filter StudyFilter) ([]Study, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+studyColumns+`
		FROM studies s
		WHERE ($1 = '' OR s.org_id = $1)
			AND ($2 = '' OR s.status = $2)
		ORDER BY s.created_at DESC, s.id ASC
		LIMIT $3
	`, filter.OrgID, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list studies: %w", mapPostgresError(err))
	}
	return collect(rows, scanStudy)
}

func (r pgReader) SearchStudies(ctx context.Context, search StudySearch) ([]Study, error) {
	limit := search.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+studyColumns+`
		FROM studies s
		WHERE ($1 = '' OR s.org_id = $1)
			AND ($4 = '' OR s.status = $4)
			AND (
				s.name ILIKE '%' || $2::text || '%'
				OR COALESCE(s.primary_kpi, '') ILIKE '%' || $2::text || '%'
				OR array_to_string(s.secondary_kpis, ' ') ILIKE '%' || $2::text || '%'
			)
		ORDER BY s.created_at DESC, s.id ASC
		LIMIT $3
	`, search.OrgID, search.Text, limit, string(search.Status))
	if err != nil {
		return nil, fmt.Errorf("search studies: %w", mapPostgresError(err))
	}
	return collect(rows, scanStudy)
}

func (r pgReader) GetQuestion(ctx context.Context, id string) (Question, error) {
	q, err := scanQuestion(r.q.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions q WHERE q.id = $1`, id))
	if err != nil {
		return Question{}, fmt.Errorf("get question %s: %w", id, mapPostgresError(err))
	}
	return q, nil
}

func (r pgReader) ListQuestions(ctx context.Context, studyID string) ([]Question, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+questionColumns+`
		FROM questions q
		WHERE q.study_id = $1
		ORDER BY q.sort_order ASC, q.id ASC
	`, studyID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", mapPostgresError(err))
	}
	return collect(rows, scanQuestion)
}

func (r pgReader) CountQuestions(ctx context.Context, studyID string) (int, error) {
	var count int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM questions WHERE study_id = $1`, studyID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count questions: %w", mapPostgresError(err))
	}
	return count, nil
}

func (r pgReader) GetOption(ctx context.Context, id string) (Option, error) {
	o, err := scanOption(r.q.QueryRow(ctx, `SELECT `+optionColumns+` FROM options o WHERE o.id = $1`, id))
	if err != nil {
		return Option{}, fmt.Errorf("get option %s: %w", id, mapPostgresError(err))
	}
	return o, nil
}

func (r pgReader) ListOptions(ctx context.Context, questionID string) ([]Option, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+optionColumns+`
		FROM options o
		WHERE o.question_id = $1
		ORDER BY o.sort_order ASC, o.id ASC
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", mapPostgresError(err))
	}
	return collect(rows, scanOption)
}

func (r pgReader) ListOptionsByStudy(ctx context.Context, studyID string) ([]Option, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+optionColumns+`
		FROM options o
		JOIN questions q ON q.id = o.question_id
		WHERE q.study_id = $1
		ORDER BY o.question_id ASC, o.sort_order ASC, o.id ASC
	`, studyID)
	if err != nil {
		return nil, fmt.Errorf("list study options: %w", mapPostgresError(err))
	}
	return collect(rows, scanOption)
}

func (r pgReader) ResolveOwnership(ctx context.Context, kind Kind, id string) (OwnershipPath, error) {
	path := OwnershipPath{Kind: kind}
	var status string
	var err error
	switch kind {
	case KindStudy:
		err = r.q.QueryRow(ctx, `SELECT id, org_id, status FROM studies WHERE id = $1`, id).
			Scan(&path.StudyID, &path.OrgID, &status)
	case KindQuestion:
		err = r.q.QueryRow(ctx, `
			SELECT q.id, s.id, s.org_id, s.status
			FROM questions q
			JOIN studies s ON s.id = q.study_id
			WHERE q.id = $1
		`, id).Scan(&path.QuestionID, &path.StudyID, &path.OrgID, &status)
	case KindOption:
		err = r.q.QueryRow(ctx, `
			SELECT o.id, q.id, s.id, s.org_id, s.status
			FROM options o
			JOIN questions q ON q.id = o.question_id
			JOIN studies s ON s.id = q.study_id
			WHERE o.id = $1
		`, id).Scan(&path.OptionID, &path.QuestionID, &path.StudyID, &path.OrgID, &status)
	case KindComment:
		err = r.q.QueryRow(ctx, `
			SELECT c.id, s.id, s.org_id, s.status
			FROM study_comments c
			JOIN studies s ON s.id = c.study_id
			WHERE c.id = $1
		`, id).Scan(&path.CommentID, &path.StudyID, &path.OrgID, &status)
	default:
		return OwnershipPath{}, fmt.Errorf("resolve ownership: unknown kind %q", kind)
	}
	if err != nil {
		return OwnershipPath{}, fmt.Errorf("resolve %s %s: %w", kind, id, mapPostgresError(err))
	}
	path.StudyStatus = study.Status(status)
	return path, nil
}

func (r pgReader) ParentsOf(ctx context.Context, kind Kind, ids []string) (map[string]string, error) {
	var query string
	switch kind {
	case KindQuestion:
		query = `SELECT id, study_id FROM questions WHERE id = ANY($1)`
	case KindOption:
		query = `SELECT id, question_id FROM options WHERE id = ANY($1)`
	default:
		return nil, fmt.Errorf("parents of: unsupported kind %q", kind)
	}
	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("parents of %s: %w", kind, mapPostgresError(err))
	}
	defer rows.Close()

	parents := make(map[string]string, len(ids))
	for rows.Next() {
		var id, parent string
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, mapPostgresError(err)
		}
		parents[id] = parent
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}
	return parents, nil
}

func (r pgReader) GetComment(ctx context.Context, id string) (Comment, error) {
	c, err := scanComment(r.q.QueryRow(ctx, `SELECT `+commentColumns+` FROM study_comments c WHERE c.id = $1`, id))
	if err != nil {
		return Comment{}, fmt.Errorf("get comment %s: %w", id, mapPostgresError(err))
	}
	return c, nil
}

func (r pgReader) ListComments(ctx context.Context, studyID string) ([]Comment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+commentColumns+`
		FROM study_comments c
		WHERE c.study_id = $1
		ORDER BY c.created_at ASC, c.id ASC
	`, studyID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", mapPostgresError(err))
	}
	return collect(rows, scanComment)
}

func (r pgReader) ListEvents(ctx context.Context, studyID string, limit int) ([]StudyEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.Query(ctx, `
		SELECT id, study_id, actor_id, kind, COALESCE(from_status, ''), COALESCE(to_status, ''), detail, created_at
		FROM study_events
		WHERE study_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, studyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", mapPostgresError(err))
	}
	return collect(rows, func(row pgx.Row) (StudyEvent, error) {
		var e StudyEvent
		var detail []byte
		if err := row.Scan(&e.ID, &e.StudyID, &e.ActorID, &e.Kind, &e.FromStatus, &e.ToStatus, &detail, &e.CreatedAt); err != nil {
			return StudyEvent{}, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return StudyEvent{}, fmt.Errorf("decode event detail: %w", err)
			}
		}
		return e, nil
	})
}

func (r pgReader) GetSignOff(ctx context.Context, studyID string) (SignOff, error) {
	var so SignOff
	err := r.q.QueryRow(ctx, `
		SELECT study_id, requested_by, requested_name, requested_at,
			COALESCE(signed_off_by, ''), COALESCE(signed_off_name, ''), signed_off_at
		FROM study_signoffs
		WHERE study_id = $1
	`, studyID).Scan(&so.StudyID, &so.RequestedBy, &so.RequestedName, &so.RequestedAt,
		&so.SignedOffBy, &so.SignedOffName, &so.SignedOffAt)
	if err != nil {
		return SignOff{}, fmt.Errorf("get sign-off for study %s: %w", studyID, mapPostgresError(err))
	}
	return so, nil
}

type pgTx struct {
	pgReader
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func requireRow(tag pgconn.CommandTag, kind Kind, id string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func (tx *pgTx) InsertStudy(ctx context.Context, s Study) error {
	secondary := s.SecondaryKPIs
	if secondary == nil {
		secondary = []string{}
	}
	_, err := tx.q.Exec(ctx, `
		INSERT INTO studies (
			id, org_id, campaign_id, name, status, funnel_stage, primary_kpi, secondary_kpis,
			vendor_project_id, vendor_target_group_id, structure_version, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, s.ID, s.OrgID, nullable(s.CampaignID), s.Name, string(s.Status), nullable(s.FunnelStage),
		nullable(s.PrimaryKPI), secondary, nullable(s.VendorProjectID), nullable(s.VendorTargetGroupID),
		s.StructureVersion, s.CreatedBy, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert study: %w", mapPostgresError(err))
	}
	return nil
}

func (tx *pgTx) UpdateStudy(ctx context.Context, s Study) error {
	secondary := s.SecondaryKPIs
	if secondary == nil {
		secondary = []string{}
	}
	tag, err := tx.q.Exec(ctx, `
		UPDATE studies SET
			campaign_id = $2, name = $3, funnel_stage = $4, primary_kpi = $5, secondary_kpis = $6,
			vendor_project_id = $7, vendor_target_group_id = $8, updated_at = $9
		WHERE id = $1
	`, s.ID, nullable(s.CampaignID), s.Name, nullable(s.FunnelStage), nullable(s.PrimaryKPI), secondary,
		nullable(s.VendorProjectID), nullable(s.VendorTargetGroupID), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update study: %w", mapPostgresError(err))
	}
	return requireRow(tag, KindStudy, s.ID)
}

func (tx *pgTx) SetStudyStatus(ctx context.Context, id string, from, to study.Status) error {
	tag, err := tx.q.Exec(ctx, `
		UPDATE studies SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("set study status: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		if _, err := tx.GetStudy(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("study %s is no longer %s: %w", id, from, ErrConflict)
	}
	return nil
}

func (tx *pgTx) BumpStructureVersion(ctx context.Context, studyID string) (int, error) {
	var version int
	err := tx.q.QueryRow(ctx, `
		UPDATE studies SET structure_version = structure_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING structure_version
	`, studyID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("bump structure version %s: %w", studyID, mapPostgresError(err))
	}
	return version, nil
}

func (tx *pgTx) InsertQuestion(ctx context.Context, q Question) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO questions (id, study_id, text, type, sort_order, is_randomized, is_mandatory, kpi_association, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, q.ID, q.StudyID, q.Text, string(q.Type), q.Order, q.IsRandomized, q.IsMandatory,
		nullable(q.KPIAssociation), q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert question: %w", mapPostgresError(err))
	}
	return nil
}

func (tx *pgTx) UpdateQuestion(ctx context.Context, q Question) error {
	tag, err := tx.q.Exec(ctx, `
		UPDATE questions SET
			text = $2, type = $3, is_randomized = $4, is_mandatory = $5, kpi_association = $6, updated_at = $7
		WHERE id = $1
	`, q.ID, q.Text, string(q.Type), q.IsRandomized, q.IsMandatory, nullable(q.KPIAssociation), q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update question: %w", mapPostgresError(err))
	}
	return requireRow(tag, KindQuestion, q.ID)
}

func (tx *pgTx) DeleteQuestion(ctx context.Context, id string) error {
	tag, err := tx.q.Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete question: %w", mapPostgresError(err))
	}
	return requireRow(tag, KindQuestion, id)
}

func (tx *pgTx) SetQuestionOrder(ctx context.Context, id string, order int) error {
	tag, err := tx.q.Exec(ctx, `UPDATE questions SET sort_order = $2, updated_at = NOW() WHERE id = $1`, id, order)
	if err != nil {
		return fmt.Errorf("set question order: %w", mapPostgresError(err))
	}
	return requireRow(tag, KindQuestion, id)
}

func (tx *pgTx) InsertOption(ctx context.Context, o Option) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO options (id, question_id, text, image_url, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, o.QuestionID, o.Text, nullable(o.ImageURL), o.Order, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert option: %w", mapPostgresError(err))
	}
	return nil
}

func (tx *pgTx) UpdateOption(ctx context.Context, o Option) error {
	tag, err := tx.q.Exec(ctx, `
		UPDATE options SET text = $2, image_url = $3, updated_at = $4 WHERE id = $1
	`, o.ID, o.Text, nullable(o.ImageURL), o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update option: %w", mapPostgresError(err))
	}
	return requireRow(tag, KindOption, o.ID)
}

func (tx *pgTx) DeleteOption(ctx context.Context, id string) error {
	tag, err := tx.q.Exec(ctx, `DELETE FROM options WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete option: %w", mapPostgresError(err))
	}
	return requireRow(tag, KindOption, id)
}

func (tx *pgTx) SetOptionOrder(ctx context.Context, id string, order int) error {
	tag, err := tx.q.Exec(ctx, `UPDATE options SET sort_order = $2, updated_at = NOW() WHERE id = $1`, id, order)
	if err != nil {
		return fmt.Errorf("set option order: %w", mapPostgresError(err))
	}
	return requireRow(tag, KindOption, id)
}

func (tx *pgTx) InsertComment(ctx context.Context, c Comment) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO study_comments (id, study_id, question_id, author_id, author_name, text, status, resolved_by, resolved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.StudyID, nullable(c.QuestionID), c.AuthorID, c.AuthorName, c.Text, c.Status,
		nullable(c.ResolvedBy), c.ResolvedAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", mapPostgresError(err))
	}
	return nil
}

func (tx *pgTx) UpdateComment(ctx context.Context, c Comment) error {
	tag, err := tx.q.Exec(ctx, `
		UPDATE study_comments SET text = $2, status = $3, resolved_by = $4, resolved_at = $5 WHERE id = $1
	`, c.ID, c.Text, c.Status, nullable(c.ResolvedBy), c.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update comment: %w", mapPostgresError(err))
	}
	return requireRow(tag, KindComment, c.ID)
}

func (tx *pgTx) InsertEvent(ctx context.Context, e StudyEvent) error {
	detail := e.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode event detail: %w", err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.q.Exec(ctx, `
		INSERT INTO study_events (id, study_id, actor_id, kind, from_status, to_status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
	`, e.ID, e.StudyID, e.ActorID, e.Kind, nullable(e.FromStatus), nullable(e.ToStatus), string(payload), createdAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", mapPostgresError(err))
	}
	return nil
}

func (tx *pgTx) SaveSignOff(ctx context.Context, so SignOff) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO study_signoffs (study_id, requested_by, requested_name, requested_at, signed_off_by, signed_off_name, signed_off_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (study_id) DO UPDATE SET
			requested_by = EXCLUDED.requested_by,
			requested_name = EXCLUDED.requested_name,
			requested_at = EXCLUDED.requested_at,
			signed_off_by = EXCLUDED.signed_off_by,
			signed_off_name = EXCLUDED.signed_off_name,
			signed_off_at = EXCLUDED.signed_off_at
	`, so.StudyID, so.RequestedBy, so.RequestedName, so.RequestedAt,
		nullable(so.SignedOffBy), nullable(so.SignedOffName), so.SignedOffAt)
	if err != nil {
		return fmt.Errorf("save sign-off: %w", mapPostgresError(err))
	}
	return nil
}
