package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"brandlift/api/internal/access"
	"brandlift/api/internal/email"
	"brandlift/api/internal/export"
	"brandlift/api/internal/rbac"
	"brandlift/api/internal/store"
	"brandlift/api/internal/study"
	"brandlift/api/internal/util"
)

const maxReasonLength = 2000

type TransitionInput struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// TransitionStudy moves a study along one edge of the lifecycle. The status
// write is a compare-and-set on the status read in the same transaction.
func (s *Service) TransitionStudy(ctx context.Context, caller access.Caller, target access.Target, input TransitionInput) (StudyView, error) {
	to, ok := study.ParseStatus(input.Status)
	if !ok {
		return StudyView{}, s.fail(ctx, validationError("status", "unknown status "+strings.TrimSpace(input.Status)))
	}
	reason := strings.TrimSpace(input.Reason)
	if len([]rune(reason)) > maxReasonLength {
		return StudyView{}, s.fail(ctx, validationError("reason", fmt.Sprintf("reason must be at most %d characters", maxReasonLength)))
	}

	var (
		before     store.Study
		after      store.Study
		transition study.Transition
		snapshot   *export.Snapshot
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.guard.In(tx).ResolvePath(ctx, caller, target)
		if err != nil {
			return err
		}
		st, err := tx.GetStudy(ctx, path.StudyID)
		if err != nil {
			return err
		}
		if name, ok := study.Lookup(st.Status, to); ok && !can(caller, rbac.ForTransition(name)) {
			return errRoleForbidden
		}
		count, err := tx.CountQuestions(ctx, st.ID)
		if err != nil {
			return err
		}
		transition, err = study.CheckTransition(study.TransitionContext{From: st.Status, To: to, QuestionCount: count})
		if err != nil {
			return err
		}
		if err := tx.SetStudyStatus(ctx, st.ID, st.Status, to); err != nil {
			return err
		}

		event := s.newEvent(caller, st.ID, store.EventStatusChanged, map[string]any{"transition": string(transition)})
		event.FromStatus = string(st.Status)
		event.ToStatus = string(to)
		if reason != "" {
			event.Detail["reason"] = reason
		}
		if err := tx.InsertEvent(ctx, event); err != nil {
			return err
		}

		if transition == study.TransitionSubmit {
			snap, err := export.BuildSnapshot(ctx, tx, st.ID)
			if err != nil {
				return err
			}
			snapshot = &snap
		}
		before = st
		after, err = tx.GetStudy(ctx, st.ID)
		return err
	})
	if err != nil {
		return StudyView{}, s.fail(ctx, err)
	}

	s.metrics.Transition(ctx, string(before.Status), string(after.Status))
	s.search.IndexStudy(after)
	s.notifyTransition(caller, before, after, reason)
	if snapshot != nil {
		s.archiveSubmission(ctx, caller, *snapshot)
	}
	return studyView(after), nil
}

func (s *Service) notifyTransition(caller access.Caller, before, after store.Study, reason string) {
	if s.notifier == nil {
		return
	}
	notice := email.StudyNotice{
		StudyID:    after.ID,
		StudyName:  after.Name,
		FromStatus: before.Status.Label(),
		ToStatus:   after.Status.Label(),
		ActorName:  caller.Name,
		Reason:     reason,
	}
	if after.Status == study.StatusPendingApproval {
		s.notifier.ReviewRequested(notice)
		return
	}
	s.notifier.StatusChanged(notice)
}

// archiveSubmission commits the submitted structure to the study's revision
// history. A failure here is logged; the transition has already committed.
func (s *Service) archiveSubmission(ctx context.Context, caller access.Caller, snap export.Snapshot) {
	if s.revisions == nil {
		return
	}
	log := zerolog.Ctx(ctx)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Warn().Err(err).Str("study_id", snap.Study.ID).Msg("encode submission snapshot")
		return
	}
	message := fmt.Sprintf("Submit for review (v%d)", snap.StructureVersion)
	rev, err := s.revisions.CommitRevision(snap.Study.ID, data, caller.Name, message)
	if err != nil {
		log.Warn().Err(err).Str("study_id", snap.Study.ID).Msg("archive submission")
		return
	}
	log.Debug().Str("study_id", snap.Study.ID).Str("revision", rev.ShortHash).Msg("submission archived")
}

type DuplicateStudyInput struct {
	NewName string `json:"newName"`
}

// DuplicateStudy copies a study's details, questions and options, with their
// orders, into a new DRAFT study of the same organization.
func (s *Service) DuplicateStudy(ctx context.Context, caller access.Caller, target access.Target, input DuplicateStudyInput) (StudyView, error) {
	name, err := requireText("newName", input.NewName, maxStudyNameLength)
	if err != nil {
		return StudyView{}, s.fail(ctx, err)
	}

	var copyStudy store.Study
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.authorize(ctx, tx, caller, target, study.OpDuplicateStudy)
		if err != nil {
			return err
		}
		source, err := tx.GetStudy(ctx, path.StudyID)
		if err != nil {
			return err
		}
		questions, err := tx.ListQuestions(ctx, source.ID)
		if err != nil {
			return err
		}
		options, err := tx.ListOptionsByStudy(ctx, source.ID)
		if err != nil {
			return err
		}

		now := s.now()
		copyStudy = store.Study{
			ID:                  util.NewID("std"),
			OrgID:               source.OrgID,
			CampaignID:          source.CampaignID,
			Name:                name,
			Status:              study.StatusDraft,
			FunnelStage:         source.FunnelStage,
			PrimaryKPI:          source.PrimaryKPI,
			SecondaryKPIs:       append([]string(nil), source.SecondaryKPIs...),
			VendorProjectID:     source.VendorProjectID,
			VendorTargetGroupID: source.VendorTargetGroupID,
			CreatedBy:           caller.UserID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := tx.InsertStudy(ctx, copyStudy); err != nil {
			return err
		}

		questionIDs := make(map[string]string, len(questions))
		for _, q := range questions {
			clone := q
			clone.ID = util.NewID("q")
			clone.StudyID = copyStudy.ID
			clone.CreatedAt = now
			clone.UpdatedAt = now
			if err := tx.InsertQuestion(ctx, clone); err != nil {
				return err
			}
			questionIDs[q.ID] = clone.ID
		}
		for _, o := range options {
			clone := o
			clone.ID = util.NewID("opt")
			clone.QuestionID = questionIDs[o.QuestionID]
			clone.CreatedAt = now
			clone.UpdatedAt = now
			if err := tx.InsertOption(ctx, clone); err != nil {
				return err
			}
		}

		return tx.InsertEvent(ctx, s.newEvent(caller, copyStudy.ID, store.EventStudyDuplicated, map[string]any{
			"sourceStudyId": source.ID,
			"questions":     len(questions),
			"options":       len(options),
		}))
	})
	if err != nil {
		return StudyView{}, s.fail(ctx, err)
	}

	s.search.IndexStudy(copyStudy)
	return studyView(copyStudy), nil
}
