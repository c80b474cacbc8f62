package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"brandlift/api/internal/access"
	"brandlift/api/internal/auth"
	"brandlift/api/internal/config"
	"brandlift/api/internal/email"
	"brandlift/api/internal/export"
	"brandlift/api/internal/gitrepo"
	"brandlift/api/internal/rbac"
	"brandlift/api/internal/search"
	"brandlift/api/internal/session"
	"brandlift/api/internal/store"
	"brandlift/api/internal/study"
	"brandlift/api/internal/telemetry"
	"brandlift/api/internal/util"
)

const (
	maxStudyNameLength    = 200
	maxQuestionTextLength = 1000
	maxOptionTextLength   = 500
	maxCommentTextLength  = 2000
	defaultListLimit      = 50
	maxListLimit          = 200
)

// Session is an authenticated request principal with its token expiry.
type Session struct {
	Caller    access.Caller
	ExpiresAt time.Time
}

// Deps are the collaborators of the service. Only Store is required.
type Deps struct {
	Store       store.Store
	Search      *search.Service
	Notifier    *email.Notifier
	Revisions   *gitrepo.Service
	Exporter    *export.Service
	Revocations session.Revocations
	Metrics     *telemetry.Metrics
	Log         zerolog.Logger
}

type Service struct {
	store       store.Store
	guard       *access.Guard
	search      *search.Service
	notifier    *email.Notifier
	revisions   *gitrepo.Service
	exporter    *export.Service
	revocations session.Revocations
	metrics     *telemetry.Metrics
	secret      []byte
	now         func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		store:       deps.Store,
		guard:       access.NewGuard(deps.Store),
		search:      deps.Search,
		notifier:    deps.Notifier,
		revisions:   deps.Revisions,
		exporter:    deps.Exporter,
		revocations: deps.Revocations,
		metrics:     deps.Metrics,
		secret:      []byte(cfg.JWTSecret),
		now:         func() time.Time { return time.Now().UTC() },
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewStoreSearch(deps.Store), deps.Log)
	}
	if s.exporter == nil {
		s.exporter = export.NewService()
	}
	if s.revocations == nil {
		s.revocations = session.NewMemoryStore()
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Authenticate verifies a bearer token and checks it has not been revoked.
func (s *Service) Authenticate(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return Session{
		Caller: access.Caller{
			UserID:     claims.Subject,
			Name:       claims.Name,
			OrgID:      claims.OrgID,
			Role:       string(rbac.Normalize(claims.Role)),
			SuperAdmin: claims.SuperAdmin,
			TokenID:    claims.ID,
		},
		ExpiresAt: expiresAt,
	}, nil
}

// Logout revokes the session's token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, sess Session) error {
	if sess.Caller.TokenID == "" {
		return nil
	}
	if err := s.revocations.Revoke(ctx, sess.Caller.TokenID, sess.Caller.UserID, sess.ExpiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// fail converts err for the caller and counts domain rejections.
func (s *Service) fail(ctx context.Context, err error) error {
	mapped := toDomainError(err)
	var domainErr *DomainError
	if errors.As(mapped, &domainErr) && domainErr.Status < http.StatusInternalServerError {
		s.metrics.Rejected(ctx, domainErr.Code)
	}
	return mapped
}

func can(caller access.Caller, action rbac.Action) bool {
	return caller.SuperAdmin || rbac.Can(rbac.Normalize(caller.Role), action)
}

// authorize runs the request checks in order: tenancy, role, then the study
// status for op. It reads through r so that a transaction sees its own state.
func (s *Service) authorize(ctx context.Context, r store.Reader, caller access.Caller, target access.Target, op study.Operation) (store.OwnershipPath, error) {
	path, err := s.guard.In(r).ResolvePath(ctx, caller, target)
	if err != nil {
		return store.OwnershipPath{}, err
	}
	if !can(caller, rbac.ForOperation(op)) {
		return store.OwnershipPath{}, errRoleForbidden
	}
	if err := study.CheckOperation(path.StudyStatus, op); err != nil {
		return store.OwnershipPath{}, err
	}
	return path, nil
}

// lockStudy bumps the structure version, which serializes structural writers
// on the study row, and re-checks the status now that it cannot move.
func (s *Service) lockStudy(ctx context.Context, tx store.Tx, studyID string, op study.Operation) (store.Study, error) {
	if _, err := tx.BumpStructureVersion(ctx, studyID); err != nil {
		return store.Study{}, err
	}
	st, err := tx.GetStudy(ctx, studyID)
	if err != nil {
		return store.Study{}, err
	}
	if err := study.CheckOperation(st.Status, op); err != nil {
		return store.Study{}, err
	}
	return st, nil
}

func (s *Service) newEvent(caller access.Caller, studyID, kind string, detail map[string]any) store.StudyEvent {
	return store.StudyEvent{
		ID:        util.NewID("evt"),
		StudyID:   studyID,
		ActorID:   caller.UserID,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: s.now(),
	}
}

type CreateStudyInput struct {
	OrgID               string   `json:"orgId"`
	Name                string   `json:"name"`
	CampaignID          string   `json:"campaignId"`
	FunnelStage         string   `json:"funnelStage"`
	PrimaryKPI          string   `json:"primaryKpi"`
	SecondaryKPIs       []string `json:"secondaryKpis"`
	VendorProjectID     string   `json:"vendorProjectId"`
	VendorTargetGroupID string   `json:"vendorTargetGroupId"`
}

// UpdateStudyFields is a partial update of the study details. Nil fields are
// left unchanged; an empty string clears an optional field.
type UpdateStudyFields struct {
	Name                *string   `json:"name"`
	CampaignID          *string   `json:"campaignId"`
	FunnelStage         *string   `json:"funnelStage"`
	PrimaryKPI          *string   `json:"primaryKpi"`
	SecondaryKPIs       *[]string `json:"secondaryKpis"`
	VendorProjectID     *string   `json:"vendorProjectId"`
	VendorTargetGroupID *string   `json:"vendorTargetGroupId"`
}

func (f UpdateStudyFields) empty() bool {
	return f.Name == nil && f.CampaignID == nil && f.FunnelStage == nil && f.PrimaryKPI == nil &&
		f.SecondaryKPIs == nil && f.VendorProjectID == nil && f.VendorTargetGroupID == nil
}

type StudyListFilter struct {
	OrgID  string
	Status string
	Limit  int
}

func (s *Service) CreateStudy(ctx context.Context, caller access.Caller, input CreateStudyInput) (StudyView, error) {
	orgID := strings.TrimSpace(input.OrgID)
	if orgID == "" {
		orgID = caller.OrgID
	}
	if !caller.Authenticated() {
		return StudyView{}, s.fail(ctx, access.ErrUnauthenticated)
	}
	if orgID == "" {
		return StudyView{}, s.fail(ctx, validationError("orgId", "orgId is required"))
	}
	if err := access.AuthorizeOrg(caller, orgID); err != nil {
		return StudyView{}, s.fail(ctx, err)
	}
	if !can(caller, rbac.ActionAuthor) {
		return StudyView{}, s.fail(ctx, errRoleForbidden)
	}

	name, err := requireText("name", input.Name, maxStudyNameLength)
	if err != nil {
		return StudyView{}, s.fail(ctx, err)
	}
	funnel, err := optionalFunnelStage(input.FunnelStage)
	if err != nil {
		return StudyView{}, s.fail(ctx, err)
	}

	now := s.now()
	st := store.Study{
		ID:                  util.NewID("std"),
		OrgID:               orgID,
		CampaignID:          strings.TrimSpace(input.CampaignID),
		Name:                name,
		Status:              study.StatusDraft,
		FunnelStage:         funnel,
		PrimaryKPI:          strings.TrimSpace(input.PrimaryKPI),
		SecondaryKPIs:       cleanList(input.SecondaryKPIs),
		VendorProjectID:     strings.TrimSpace(input.VendorProjectID),
		VendorTargetGroupID: strings.TrimSpace(input.VendorTargetGroupID),
		CreatedBy:           caller.UserID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertStudy(ctx, st); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, s.newEvent(caller, st.ID, store.EventStudyCreated, map[string]any{"name": st.Name}))
	})
	if err != nil {
		return StudyView{}, s.fail(ctx, err)
	}

	s.search.IndexStudy(st)
	return studyView(st), nil
}

func (s *Service) GetStudy(ctx context.Context, caller access.Caller, target access.Target) (StudyDetail, error) {
	path, err := s.authorize(ctx, s.store, caller, target, study.OpReadStructure)
	if err != nil {
		return StudyDetail{}, s.fail(ctx, err)
	}
	st, err := s.store.GetStudy(ctx, path.StudyID)
	if err != nil {
		return StudyDetail{}, s.fail(ctx, err)
	}
	questions, err := s.store.CountQuestions(ctx, st.ID)
	if err != nil {
		return StudyDetail{}, s.fail(ctx, err)
	}
	options, err := s.store.ListOptionsByStudy(ctx, st.ID)
	if err != nil {
		return StudyDetail{}, s.fail(ctx, err)
	}
	comments, err := s.store.ListComments(ctx, st.ID)
	if err != nil {
		return StudyDetail{}, s.fail(ctx, err)
	}
	open := 0
	for _, c := range comments {
		if c.Status == store.CommentOpen {
			open++
		}
	}

	return StudyDetail{
		StudyView:          studyView(st),
		QuestionCount:      questions,
		OptionCount:        len(options),
		OpenCommentCount:   open,
		AllowedTransitions: nonNilStatuses(study.AllowedTargets(st.Status)),
		Editable:           study.Allows(st.Status, study.OpCreateQuestion),
	}, nil
}

// ListStudies lists the caller's organization. Super admins may name any
// organization or list every one.
func (s *Service) ListStudies(ctx context.Context, caller access.Caller, filter StudyListFilter) ([]StudyView, error) {
	if !caller.Authenticated() {
		return nil, s.fail(ctx, access.ErrUnauthenticated)
	}
	if !can(caller, rbac.ActionRead) {
		return nil, s.fail(ctx, errRoleForbidden)
	}
	orgID := caller.OrgID
	if requested := strings.TrimSpace(filter.OrgID); requested != "" {
		if err := access.AuthorizeOrg(caller, requested); err != nil {
			return nil, s.fail(ctx, err)
		}
		orgID = requested
	} else if caller.SuperAdmin {
		orgID = ""
	}

	var status study.Status
	if strings.TrimSpace(filter.Status) != "" {
		parsed, ok := study.ParseStatus(filter.Status)
		if !ok {
			return nil, s.fail(ctx, validationError("status", "unknown status "+filter.Status))
		}
		status = parsed
	}

	studies, err := s.store.ListStudies(ctx, store.StudyFilter{OrgID: orgID, Status: status, Limit: clampLimit(filter.Limit)})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	out := make([]StudyView, 0, len(studies))
	for _, st := range studies {
		out = append(out, studyView(st))
	}
	return out, nil
}

// SearchStudies queries the index, scoped like ListStudies.
func (s *Service) SearchStudies(ctx context.Context, caller access.Caller, text string, filter StudyListFilter) (search.Response, error) {
	if !caller.Authenticated() {
		return search.Response{}, s.fail(ctx, access.ErrUnauthenticated)
	}
	if !can(caller, rbac.ActionRead) {
		return search.Response{}, s.fail(ctx, errRoleForbidden)
	}
	orgID := caller.OrgID
	if requested := strings.TrimSpace(filter.OrgID); requested != "" {
		if err := access.AuthorizeOrg(caller, requested); err != nil {
			return search.Response{}, s.fail(ctx, err)
		}
		orgID = requested
	} else if caller.SuperAdmin {
		orgID = ""
	}
	status := ""
	if strings.TrimSpace(filter.Status) != "" {
		parsed, ok := study.ParseStatus(filter.Status)
		if !ok {
			return search.Response{}, s.fail(ctx, validationError("status", "unknown status "+filter.Status))
		}
		status = string(parsed)
	}
	return s.search.Search(search.Query{
		Text:   strings.TrimSpace(text),
		OrgID:  orgID,
		Status: status,
		Limit:  clampLimit(filter.Limit),
	}), nil
}

func (s *Service) UpdateStudy(ctx context.Context, caller access.Caller, target access.Target, fields UpdateStudyFields) (StudyView, error) {
	if fields.empty() {
		return StudyView{}, s.fail(ctx, validationError("body", "at least one field is required"))
	}

	var updated store.Study
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.authorize(ctx, tx, caller, target, study.OpUpdateStudyDetails)
		if err != nil {
			return err
		}
		st, err := tx.GetStudy(ctx, path.StudyID)
		if err != nil {
			return err
		}
		changed, err := applyStudyFields(&st, fields)
		if err != nil {
			return err
		}
		st.UpdatedAt = s.now()
		if err := tx.UpdateStudy(ctx, st); err != nil {
			return err
		}
		// The row is locked by the update; the status read now is final.
		current, err := tx.GetStudy(ctx, st.ID)
		if err != nil {
			return err
		}
		if err := study.CheckOperation(current.Status, study.OpUpdateStudyDetails); err != nil {
			return err
		}
		updated = current
		return tx.InsertEvent(ctx, s.newEvent(caller, st.ID, store.EventStudyUpdated, map[string]any{"fields": changed}))
	})
	if err != nil {
		return StudyView{}, s.fail(ctx, err)
	}

	s.search.IndexStudy(updated)
	return studyView(updated), nil
}

func applyStudyFields(st *store.Study, fields UpdateStudyFields) ([]string, error) {
	var changed []string
	if fields.Name != nil {
		name, err := requireText("name", *fields.Name, maxStudyNameLength)
		if err != nil {
			return nil, err
		}
		st.Name = name
		changed = append(changed, "name")
	}
	if fields.CampaignID != nil {
		st.CampaignID = strings.TrimSpace(*fields.CampaignID)
		changed = append(changed, "campaignId")
	}
	if fields.FunnelStage != nil {
		funnel, err := optionalFunnelStage(*fields.FunnelStage)
		if err != nil {
			return nil, err
		}
		st.FunnelStage = funnel
		changed = append(changed, "funnelStage")
	}
	if fields.PrimaryKPI != nil {
		st.PrimaryKPI = strings.TrimSpace(*fields.PrimaryKPI)
		changed = append(changed, "primaryKpi")
	}
	if fields.SecondaryKPIs != nil {
		st.SecondaryKPIs = cleanList(*fields.SecondaryKPIs)
		changed = append(changed, "secondaryKpis")
	}
	if fields.VendorProjectID != nil {
		st.VendorProjectID = strings.TrimSpace(*fields.VendorProjectID)
		changed = append(changed, "vendorProjectId")
	}
	if fields.VendorTargetGroupID != nil {
		st.VendorTargetGroupID = strings.TrimSpace(*fields.VendorTargetGroupID)
		changed = append(changed, "vendorTargetGroupId")
	}
	return changed, nil
}

func requireText(field, value string, max int) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", validationError(field, field+" is required")
	}
	if utf8.RuneCountInString(trimmed) > max {
		return "", validationError(field, fmt.Sprintf("%s must be at most %d characters", field, max))
	}
	return trimmed, nil
}

func optionalFunnelStage(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	stage, ok := study.ParseFunnelStage(value)
	if !ok {
		return "", validationError("funnelStage", "funnelStage must be TOP_FUNNEL, MID_FUNNEL or BOTTOM_FUNNEL")
	}
	return string(stage), nil
}

func optionalImageURL(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", validationError("imageUrl", "imageUrl must be an absolute http(s) URL")
	}
	return trimmed, nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
