package app

import (
	"context"
	"encoding/json"
	"strings"

	"brandlift/api/internal/access"
	"brandlift/api/internal/export"
	"brandlift/api/internal/gitrepo"
	"brandlift/api/internal/store"
	"brandlift/api/internal/study"
	"brandlift/api/internal/util"
)

type AddCommentInput struct {
	Text       string `json:"text"`
	QuestionID string `json:"questionId"`
}

// ListComments returns a study's comments. A non-empty questionID narrows the
// list to that question, which must belong to the study.
func (s *Service) ListComments(ctx context.Context, caller access.Caller, target access.Target, questionID string) ([]CommentView, error) {
	path, err := s.authorize(ctx, s.store, caller, target, study.OpReadStructure)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	questionID = strings.TrimSpace(questionID)
	if questionID != "" {
		qTarget := access.Question(questionID)
		qTarget.StudyID = path.StudyID
		if _, err := s.guard.ResolvePath(ctx, caller, qTarget); err != nil {
			return nil, s.fail(ctx, err)
		}
	}
	comments, err := s.store.ListComments(ctx, path.StudyID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	out := make([]CommentView, 0, len(comments))
	for _, c := range comments {
		if questionID != "" && c.QuestionID != questionID {
			continue
		}
		out = append(out, commentView(c))
	}
	return out, nil
}

// AddComment records review feedback on a study, optionally pinned to one of
// its questions.
func (s *Service) AddComment(ctx context.Context, caller access.Caller, target access.Target, input AddCommentInput) (CommentView, error) {
	text, err := requireText("text", input.Text, maxCommentTextLength)
	if err != nil {
		return CommentView{}, s.fail(ctx, err)
	}

	var created store.Comment
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.authorize(ctx, tx, caller, target, study.OpAddComment)
		if err != nil {
			return err
		}
		questionID := strings.TrimSpace(input.QuestionID)
		if questionID != "" {
			qTarget := access.Question(questionID)
			qTarget.StudyID = path.StudyID
			if _, err := s.guard.In(tx).ResolvePath(ctx, caller, qTarget); err != nil {
				return err
			}
		}

		created = store.Comment{
			ID:         util.NewID("cmt"),
			StudyID:    path.StudyID,
			QuestionID: questionID,
			AuthorID:   caller.UserID,
			AuthorName: caller.Name,
			Text:       text,
			Status:     store.CommentOpen,
			CreatedAt:  s.now(),
		}
		if err := tx.InsertComment(ctx, created); err != nil {
			return err
		}
		detail := map[string]any{"commentId": created.ID}
		if questionID != "" {
			detail["questionId"] = questionID
		}
		return tx.InsertEvent(ctx, s.newEvent(caller, path.StudyID, store.EventCommentAdded, detail))
	})
	if err != nil {
		return CommentView{}, s.fail(ctx, err)
	}
	return commentView(created), nil
}

// ResolveComment marks a comment resolved. Resolving it again returns it unchanged.
func (s *Service) ResolveComment(ctx context.Context, caller access.Caller, target access.Target) (CommentView, error) {
	var resolved store.Comment
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.authorize(ctx, tx, caller, target, study.OpResolveComment)
		if err != nil {
			return err
		}
		c, err := tx.GetComment(ctx, path.CommentID)
		if err != nil {
			return err
		}
		if c.Status == store.CommentResolved {
			resolved = c
			return nil
		}
		now := s.now()
		c.Status = store.CommentResolved
		c.ResolvedBy = caller.UserID
		c.ResolvedAt = &now
		if err := tx.UpdateComment(ctx, c); err != nil {
			return err
		}
		resolved = c
		return tx.InsertEvent(ctx, s.newEvent(caller, path.StudyID, store.EventCommentResolved, map[string]any{"commentId": c.ID}))
	})
	if err != nil {
		return CommentView{}, s.fail(ctx, err)
	}
	return commentView(resolved), nil
}

// ListEvents returns the audit trail newest first.
func (s *Service) ListEvents(ctx context.Context, caller access.Caller, target access.Target, limit int) ([]EventView, error) {
	path, err := s.authorize(ctx, s.store, caller, target, study.OpReadStructure)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	events, err := s.store.ListEvents(ctx, path.StudyID, clampLimit(limit))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	out := make([]EventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView(e))
	}
	return out, nil
}

// ExportStudy renders the current structure in the requested format.
func (s *Service) ExportStudy(ctx context.Context, caller access.Caller, target access.Target, format export.Format) (*export.Result, error) {
	path, err := s.authorize(ctx, s.store, caller, target, study.OpReadStructure)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.export(ctx, path.StudyID, format)
}

// AdminExportStudy is the cross-tenant export path reserved for super admins.
func (s *Service) AdminExportStudy(ctx context.Context, caller access.Caller, target access.Target, format export.Format) (*export.Result, error) {
	if !caller.Authenticated() {
		return nil, s.fail(ctx, access.ErrUnauthenticated)
	}
	if !caller.SuperAdmin {
		return nil, s.fail(ctx, access.ErrForbidden)
	}
	path, err := s.guard.ResolvePath(ctx, caller, target)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.export(ctx, path.StudyID, format)
}

func (s *Service) export(ctx context.Context, studyID string, format export.Format) (*export.Result, error) {
	snap, err := export.BuildSnapshot(ctx, s.store, studyID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	result, err := s.exporter.Export(ctx, snap, format)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return result, nil
}

// RevisionDetail is one archived submission with its snapshot.
type RevisionDetail struct {
	gitrepo.Revision
	Snapshot json.RawMessage `json:"snapshot"`
}

func (s *Service) ListRevisions(ctx context.Context, caller access.Caller, target access.Target, limit int) ([]gitrepo.Revision, error) {
	path, err := s.authorize(ctx, s.store, caller, target, study.OpReadStructure)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if s.revisions == nil {
		return []gitrepo.Revision{}, nil
	}
	revisions, err := s.revisions.History(path.StudyID, clampLimit(limit))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return revisions, nil
}

func (s *Service) GetRevision(ctx context.Context, caller access.Caller, target access.Target, hash string) (RevisionDetail, error) {
	path, err := s.authorize(ctx, s.store, caller, target, study.OpReadStructure)
	if err != nil {
		return RevisionDetail{}, s.fail(ctx, err)
	}
	if s.revisions == nil {
		return RevisionDetail{}, s.fail(ctx, gitrepo.ErrRevisionNotFound)
	}
	data, rev, err := s.revisions.RevisionByHash(path.StudyID, strings.TrimSpace(hash))
	if err != nil {
		return RevisionDetail{}, s.fail(ctx, err)
	}
	return RevisionDetail{Revision: rev, Snapshot: json.RawMessage(data)}, nil
}
