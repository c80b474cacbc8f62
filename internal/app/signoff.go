package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"brandlift/api/internal/access"
	"brandlift/api/internal/email"
	"brandlift/api/internal/store"
	"brandlift/api/internal/study"
)

const (
	SignOffNotRequested = "NOT_REQUESTED"
	SignOffRequested    = "REQUESTED"
	SignOffSigned       = "SIGNED_OFF"
)

// ApprovalView is a study's approval status together with its client sign-off.
type ApprovalView struct {
	StudyID         string     `json:"studyId"`
	Status          string     `json:"status"`
	SignOff         string     `json:"signOff"`
	RequestedBy     string     `json:"requestedBy,omitempty"`
	RequestedByName string     `json:"requestedByName,omitempty"`
	RequestedAt     *time.Time `json:"requestedAt,omitempty"`
	SignedOffBy     string     `json:"signedOffBy,omitempty"`
	SignedOffByName string     `json:"signedOffByName,omitempty"`
	SignedOffAt     *time.Time `json:"signedOffAt,omitempty"`
}

func approvalView(st store.Study, so *store.SignOff) ApprovalView {
	view := ApprovalView{StudyID: st.ID, Status: string(st.Status), SignOff: SignOffNotRequested}
	if so == nil {
		return view
	}
	requestedAt := so.RequestedAt
	view.SignOff = SignOffRequested
	view.RequestedBy = so.RequestedBy
	view.RequestedByName = so.RequestedName
	view.RequestedAt = &requestedAt
	if so.SignedOffAt != nil {
		signedAt := *so.SignedOffAt
		view.SignOff = SignOffSigned
		view.SignedOffBy = so.SignedOffBy
		view.SignedOffByName = so.SignedOffName
		view.SignedOffAt = &signedAt
	}
	return view
}

type RequestSignOffInput struct {
	Note string `json:"note"`
}

// loadSignOff returns nil when sign-off was never requested.
func loadSignOff(ctx context.Context, r store.Reader, studyID string) (*store.SignOff, error) {
	so, err := r.GetSignOff(ctx, studyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &so, nil
}

func (s *Service) GetApproval(ctx context.Context, caller access.Caller, target access.Target) (ApprovalView, error) {
	path, err := s.authorize(ctx, s.store, caller, target, study.OpReadStructure)
	if err != nil {
		return ApprovalView{}, s.fail(ctx, err)
	}
	st, err := s.store.GetStudy(ctx, path.StudyID)
	if err != nil {
		return ApprovalView{}, s.fail(ctx, err)
	}
	so, err := loadSignOff(ctx, s.store, st.ID)
	if err != nil {
		return ApprovalView{}, s.fail(ctx, err)
	}
	return approvalView(st, so), nil
}

// lockApproval holds the study row for the rest of the transaction with a
// same-status compare-and-set, then re-checks op against the locked status.
func lockApproval(ctx context.Context, tx store.Tx, studyID string, op study.Operation) (store.Study, error) {
	st, err := tx.GetStudy(ctx, studyID)
	if err != nil {
		return store.Study{}, err
	}
	if err := tx.SetStudyStatus(ctx, st.ID, st.Status, st.Status); err != nil {
		return store.Study{}, err
	}
	if err := study.CheckOperation(st.Status, op); err != nil {
		return store.Study{}, err
	}
	return st, nil
}

// RequestSignOff asks reviewers to sign off the study once it is approved.
// Asking again returns the existing record.
func (s *Service) RequestSignOff(ctx context.Context, caller access.Caller, target access.Target, input RequestSignOffInput) (ApprovalView, error) {
	note := strings.TrimSpace(input.Note)
	if len([]rune(note)) > maxReasonLength {
		return ApprovalView{}, s.fail(ctx, validationError("note", fmt.Sprintf("note must be at most %d characters", maxReasonLength)))
	}

	var (
		view    ApprovalView
		created bool
		st      store.Study
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.authorize(ctx, tx, caller, target, study.OpRequestSignOff)
		if err != nil {
			return err
		}
		st, err = lockApproval(ctx, tx, path.StudyID, study.OpRequestSignOff)
		if err != nil {
			return err
		}
		existing, err := loadSignOff(ctx, tx, st.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			view = approvalView(st, existing)
			return nil
		}

		so := store.SignOff{
			StudyID:       st.ID,
			RequestedBy:   caller.UserID,
			RequestedName: caller.Name,
			RequestedAt:   s.now(),
		}
		if err := tx.SaveSignOff(ctx, so); err != nil {
			return err
		}
		detail := map[string]any{}
		if note != "" {
			detail["note"] = note
		}
		if err := tx.InsertEvent(ctx, s.newEvent(caller, st.ID, store.EventSignOffRequested, detail)); err != nil {
			return err
		}
		view = approvalView(st, &so)
		created = true
		return nil
	})
	if err != nil {
		return ApprovalView{}, s.fail(ctx, err)
	}
	if created && s.notifier != nil {
		s.notifier.SignOffRequested(signOffNotice(caller, st, note))
	}
	return view, nil
}

// SignOff records the caller's sign-off. It is refused until sign-off has been
// requested; signing an already signed-off study returns it unchanged.
func (s *Service) SignOff(ctx context.Context, caller access.Caller, target access.Target) (ApprovalView, error) {
	var (
		view   ApprovalView
		signed bool
		st     store.Study
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.authorize(ctx, tx, caller, target, study.OpSignOff)
		if err != nil {
			return err
		}
		st, err = lockApproval(ctx, tx, path.StudyID, study.OpSignOff)
		if err != nil {
			return err
		}
		so, err := loadSignOff(ctx, tx, st.ID)
		if err != nil {
			return err
		}
		if so == nil {
			return domainError(http.StatusConflict, "SIGN_OFF_NOT_REQUESTED", "Sign-off has not been requested for this study", nil)
		}
		if so.SignedOffAt != nil {
			view = approvalView(st, so)
			return nil
		}

		now := s.now()
		so.SignedOffBy = caller.UserID
		so.SignedOffName = caller.Name
		so.SignedOffAt = &now
		if err := tx.SaveSignOff(ctx, *so); err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, s.newEvent(caller, st.ID, store.EventSignedOff, map[string]any{
			"requestedBy": so.RequestedBy,
		})); err != nil {
			return err
		}
		view = approvalView(st, so)
		signed = true
		return nil
	})
	if err != nil {
		return ApprovalView{}, s.fail(ctx, err)
	}
	if signed && s.notifier != nil {
		s.notifier.SignedOff(signOffNotice(caller, st, ""))
	}
	return view, nil
}

func signOffNotice(caller access.Caller, st store.Study, note string) email.StudyNotice {
	return email.StudyNotice{
		StudyID:    st.ID,
		StudyName:  st.Name,
		FromStatus: st.Status.Label(),
		ToStatus:   st.Status.Label(),
		ActorName:  caller.Name,
		Reason:     note,
	}
}
