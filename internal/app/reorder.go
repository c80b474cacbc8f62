package app

import (
	"context"
	"errors"

	"brandlift/api/internal/access"
	"brandlift/api/internal/ordering"
	"brandlift/api/internal/store"
	"brandlift/api/internal/study"
)

// ReorderRequest is a batch of new sibling positions. ExpectedVersion, when
// set, must equal the study's structure version or the batch is refused.
type ReorderRequest struct {
	Items           []ordering.Update `json:"items"`
	ExpectedVersion *int              `json:"expectedVersion"`
}

// reorderScope adapts the engine to one kind of sibling set.
type reorderScope struct {
	kind       store.Kind
	op         study.Operation
	eventKind  string
	parentID   func(store.OwnershipPath) string
	currentMap func(ctx context.Context, r store.Reader, parentID string) (map[string]int, error)
	setOrder   func(ctx context.Context, tx store.Tx, id string, order int) error
}

var questionScope = reorderScope{
	kind:      store.KindQuestion,
	op:        study.OpReorderQuestions,
	eventKind: store.EventQuestionsReordered,
	parentID:  func(p store.OwnershipPath) string { return p.StudyID },
	currentMap: func(ctx context.Context, r store.Reader, parentID string) (map[string]int, error) {
		questions, err := r.ListQuestions(ctx, parentID)
		if err != nil {
			return nil, err
		}
		out := make(map[string]int, len(questions))
		for _, q := range questions {
			out[q.ID] = q.Order
		}
		return out, nil
	},
	setOrder: func(ctx context.Context, tx store.Tx, id string, order int) error {
		return tx.SetQuestionOrder(ctx, id, order)
	},
}

var optionScope = reorderScope{
	kind:      store.KindOption,
	op:        study.OpReorderOptions,
	eventKind: store.EventOptionsReordered,
	parentID:  func(p store.OwnershipPath) string { return p.QuestionID },
	currentMap: func(ctx context.Context, r store.Reader, parentID string) (map[string]int, error) {
		options, err := r.ListOptions(ctx, parentID)
		if err != nil {
			return nil, err
		}
		out := make(map[string]int, len(options))
		for _, o := range options {
			out[o.ID] = o.Order
		}
		return out, nil
	},
	setOrder: func(ctx context.Context, tx store.Tx, id string, order int) error {
		return tx.SetOptionOrder(ctx, id, order)
	},
}

// ReorderQuestions applies a batch of question orders under one study.
func (s *Service) ReorderQuestions(ctx context.Context, caller access.Caller, target access.Target, req ReorderRequest) (ReorderResult, error) {
	result, err := s.reorder(ctx, caller, target, req, questionScope)
	if err != nil {
		return ReorderResult{}, err
	}
	questions, err := s.store.ListQuestions(ctx, result.ParentID)
	if err != nil {
		return ReorderResult{}, s.fail(ctx, err)
	}
	result.Questions = questionViews(questions)
	orders := make([]int, len(questions))
	for i, q := range questions {
		orders[i] = q.Order
	}
	result.HasGaps = ordering.HasGaps(orders)
	return result, nil
}

// ReorderOptions applies a batch of option orders under one question.
func (s *Service) ReorderOptions(ctx context.Context, caller access.Caller, target access.Target, req ReorderRequest) (ReorderResult, error) {
	result, err := s.reorder(ctx, caller, target, req, optionScope)
	if err != nil {
		return ReorderResult{}, err
	}
	options, err := s.store.ListOptions(ctx, result.ParentID)
	if err != nil {
		return ReorderResult{}, s.fail(ctx, err)
	}
	result.Options = optionViews(options)
	orders := make([]int, len(options))
	for i, o := range options {
		orders[i] = o.Order
	}
	result.HasGaps = ordering.HasGaps(orders)
	return result, nil
}

// reorder runs the whole batch in one transaction: every listed child must
// belong directly to the parent, and either all orders change or none do.
// Children not listed keep their orders. A batch that changes nothing
// commits nothing, so repeating a reorder has no further effect.
func (s *Service) reorder(ctx context.Context, caller access.Caller, target access.Target, req ReorderRequest, scope reorderScope) (ReorderResult, error) {
	var result ReorderResult
	outcome := "rejected"
	defer func() {
		s.metrics.Reorder(ctx, string(scope.kind), outcome, len(req.Items))
	}()

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.authorize(ctx, tx, caller, target, scope.op)
		if err != nil {
			return err
		}
		if err := ordering.ValidateBatch(req.Items); err != nil {
			return err
		}
		updates := ordering.Normalize(req.Items)
		parentID := scope.parentID(path)

		parents, err := tx.ParentsOf(ctx, scope.kind, ordering.IDs(updates))
		if err != nil {
			return err
		}
		if err := ordering.CheckMembership(parentID, updates, parents); err != nil {
			return err
		}

		current, err := scope.currentMap(ctx, tx, parentID)
		if err != nil {
			return err
		}
		var changes []ordering.Update
		for _, u := range updates {
			if current[u.ID] != u.Order {
				changes = append(changes, u)
			}
		}

		result.ParentID = parentID
		if len(changes) == 0 {
			st, err := tx.GetStudy(ctx, path.StudyID)
			if err != nil {
				return err
			}
			if req.ExpectedVersion != nil && *req.ExpectedVersion != st.StructureVersion {
				return &VersionConflictError{Expected: *req.ExpectedVersion, Actual: st.StructureVersion}
			}
			result.StructureVersion = st.StructureVersion
			return nil
		}

		st, err := s.lockStudy(ctx, tx, path.StudyID, scope.op)
		if err != nil {
			return err
		}
		previous := st.StructureVersion - 1
		if req.ExpectedVersion != nil && *req.ExpectedVersion != previous {
			return &VersionConflictError{Expected: *req.ExpectedVersion, Actual: previous}
		}

		moved := make([]map[string]any, 0, len(changes))
		for _, u := range changes {
			if err := scope.setOrder(ctx, tx, u.ID, u.Order); err != nil {
				return err
			}
			moved = append(moved, map[string]any{"id": u.ID, "from": current[u.ID], "to": u.Order})
		}

		result.StructureVersion = st.StructureVersion
		result.Changed = len(changes)
		return tx.InsertEvent(ctx, s.newEvent(caller, st.ID, scope.eventKind, map[string]any{
			"parentId":         parentID,
			"moves":            moved,
			"structureVersion": st.StructureVersion,
		}))
	})
	if err != nil {
		var versionErr *VersionConflictError
		if errors.As(err, &versionErr) {
			outcome = "version_conflict"
		}
		return ReorderResult{}, s.fail(ctx, err)
	}
	outcome = "applied"
	if result.Changed == 0 {
		outcome = "unchanged"
	}
	return result, nil
}
