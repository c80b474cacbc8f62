package app

import (
	"context"
	"strings"

	"brandlift/api/internal/access"
	"brandlift/api/internal/ordering"
	"brandlift/api/internal/store"
	"brandlift/api/internal/study"
	"brandlift/api/internal/util"
)

type CreateQuestionInput struct {
	Text           string `json:"text"`
	QuestionType   string `json:"questionType"`
	Order          *int   `json:"order"`
	IsRandomized   *bool  `json:"isRandomized"`
	IsMandatory    *bool  `json:"isMandatory"`
	KPIAssociation string `json:"kpiAssociation"`
}

// UpdateQuestionFields changes question fields in place. Order is not one of
// them; positions only move through a reorder.
type UpdateQuestionFields struct {
	Text           *string `json:"text"`
	QuestionType   *string `json:"questionType"`
	IsRandomized   *bool   `json:"isRandomized"`
	IsMandatory    *bool   `json:"isMandatory"`
	KPIAssociation *string `json:"kpiAssociation"`
}

func (f UpdateQuestionFields) empty() bool {
	return f.Text == nil && f.QuestionType == nil && f.IsRandomized == nil && f.IsMandatory == nil && f.KPIAssociation == nil
}

type CreateOptionInput struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
	Order    *int   `json:"order"`
}

type UpdateOptionFields struct {
	Text     *string `json:"text"`
	ImageURL *string `json:"imageUrl"`
}

func (f UpdateOptionFields) empty() bool {
	return f.Text == nil && f.ImageURL == nil
}

func requireOrder(order *int) (int, error) {
	if order == nil {
		return 0, validationError("order", "order is required")
	}
	if err := ordering.ValidateOrder(*order); err != nil {
		return 0, err
	}
	return *order, nil
}

func (s *Service) ListQuestions(ctx context.Context, caller access.Caller, target access.Target) ([]QuestionView, error) {
	path, err := s.authorize(ctx, s.store, caller, target, study.OpReadStructure)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	questions, err := s.store.ListQuestions(ctx, path.StudyID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return questionViews(questions), nil
}

// CreateQuestion inserts a question at a caller chosen order. Siblings never
// shift: a second question at the same order rolls the insert back.
func (s *Service) CreateQuestion(ctx context.Context, caller access.Caller, target access.Target, input CreateQuestionInput) (QuestionView, error) {
	text, err := requireText("text", input.Text, maxQuestionTextLength)
	if err != nil {
		return QuestionView{}, s.fail(ctx, err)
	}
	questionType, ok := study.ParseQuestionType(input.QuestionType)
	if !ok {
		return QuestionView{}, s.fail(ctx, validationError("questionType", "questionType must be SINGLE_CHOICE or MULTIPLE_CHOICE"))
	}
	order, err := requireOrder(input.Order)
	if err != nil {
		return QuestionView{}, s.fail(ctx, err)
	}

	var created store.Question
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.authorize(ctx, tx, caller, target, study.OpCreateQuestion)
		if err != nil {
			return err
		}
		st, err := s.lockStudy(ctx, tx, path.StudyID, study.OpCreateQuestion)
		if err != nil {
			return err
		}

		now := s.now()
		q := store.Question{
			ID:             util.NewID("q"),
			StudyID:        st.ID,
			Text:           text,
			Type:           questionType,
			Order:          order,
			IsRandomized:   input.IsRandomized != nil && *input.IsRandomized,
			IsMandatory:    input.IsMandatory == nil || *input.IsMandatory,
			KPIAssociation: strings.TrimSpace(input.KPIAssociation),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertQuestion(ctx, q); err != nil {
			return err
		}
		if err := store.CheckQuestionOrder(ctx, tx, st.ID, q.ID, q.Order); err != nil {
			return err
		}
		created = q
		return tx.InsertEvent(ctx, s.newEvent(caller, st.ID, store.EventQuestionCreated, map[string]any{
			"questionId":       q.ID,
			"order":            q.Order,
			"structureVersion": st.StructureVersion,
		}))
	})
	if err != nil {
		return QuestionView{}, s.fail(ctx, err)
	}
	return questionView(created), nil
}

func (s *Service) UpdateQuestion(ctx context.Context, caller access.Caller, target access.Target, fields UpdateQuestionFields) (QuestionView, error) {
	if fields.empty() {
		return QuestionView{}, s.fail(ctx, validationError("body", "at least one field is required"))
	}

	var updated store.Question
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.authorize(ctx, tx, caller, target, study.OpUpdateQuestionFields)
		if err != nil {
			return err
		}
		st, err := s.lockStudy(ctx, tx, path.StudyID, study.OpUpdateQuestionFields)
		if err != nil {
			return err
		}
		q, err := tx.GetQuestion(ctx, path.QuestionID)
		if err != nil {
			return err
		}

		var changed []string
		if fields.Text != nil {
			text, err := requireText("text", *fields.Text, maxQuestionTextLength)
			if err != nil {
				return err
			}
			q.Text = text
			changed = append(changed, "text")
		}
		if fields.QuestionType != nil {
			questionType, ok := study.ParseQuestionType(*fields.QuestionType)
			if !ok {
				return validationError("questionType", "questionType must be SINGLE_CHOICE or MULTIPLE_CHOICE")
			}
			q.Type = questionType
			changed = append(changed, "questionType")
		}
		if fields.IsRandomized != nil {
			q.IsRandomized = *fields.IsRandomized
			changed = append(changed, "isRandomized")
		}
		if fields.IsMandatory != nil {
			q.IsMandatory = *fields.IsMandatory
			changed = append(changed, "isMandatory")
		}
		if fields.KPIAssociation != nil {
			q.KPIAssociation = strings.TrimSpace(*fields.KPIAssociation)
			changed = append(changed, "kpiAssociation")
		}
		q.UpdatedAt = s.now()
		if err := tx.UpdateQuestion(ctx, q); err != nil {
			return err
		}
		updated = q
		return tx.InsertEvent(ctx, s.newEvent(caller, st.ID, store.EventQuestionUpdated, map[string]any{
			"questionId":       q.ID,
			"fields":           changed,
			"structureVersion": st.StructureVersion,
		}))
	})
	if err != nil {
		return QuestionView{}, s.fail(ctx, err)
	}
	return questionView(updated), nil
}

// DeleteQuestion removes a question and its options. Surviving siblings keep
// their orders, gaps included.
func (s *Service) DeleteQuestion(ctx context.Context, caller access.Caller, target access.Target) error {
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.authorize(ctx, tx, caller, target, study.OpDeleteQuestion)
		if err != nil {
			return err
		}
		st, err := s.lockStudy(ctx, tx, path.StudyID, study.OpDeleteQuestion)
		if err != nil {
			return err
		}
		q, err := tx.GetQuestion(ctx, path.QuestionID)
		if err != nil {
			return err
		}
		if err := tx.DeleteQuestion(ctx, q.ID); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, s.newEvent(caller, st.ID, store.EventQuestionDeleted, map[string]any{
			"questionId":       q.ID,
			"order":            q.Order,
			"structureVersion": st.StructureVersion,
		}))
	})
	return s.fail(ctx, err)
}

func (s *Service) ListOptions(ctx context.Context, caller access.Caller, target access.Target) ([]OptionView, error) {
	path, err := s.authorize(ctx, s.store, caller, target, study.OpReadStructure)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	options, err := s.store.ListOptions(ctx, path.QuestionID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return optionViews(options), nil
}

// CreateOption is CreateQuestion scoped to one question's options.
func (s *Service) CreateOption(ctx context.Context, caller access.Caller, target access.Target, input CreateOptionInput) (OptionView, error) {
	text, err := requireText("text", input.Text, maxOptionTextLength)
	if err != nil {
		return OptionView{}, s.fail(ctx, err)
	}
	imageURL, err := optionalImageURL(input.ImageURL)
	if err != nil {
		return OptionView{}, s.fail(ctx, err)
	}
	order, err := requireOrder(input.Order)
	if err != nil {
		return OptionView{}, s.fail(ctx, err)
	}

	var created store.Option
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.authorize(ctx, tx, caller, target, study.OpCreateOption)
		if err != nil {
			return err
		}
		st, err := s.lockStudy(ctx, tx, path.StudyID, study.OpCreateOption)
		if err != nil {
			return err
		}

		now := s.now()
		o := store.Option{
			ID:         util.NewID("opt"),
			QuestionID: path.QuestionID,
			Text:       text,
			ImageURL:   imageURL,
			Order:      order,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertOption(ctx, o); err != nil {
			return err
		}
		if err := store.CheckOptionOrder(ctx, tx, o.QuestionID, o.ID, o.Order); err != nil {
			return err
		}
		created = o
		return tx.InsertEvent(ctx, s.newEvent(caller, st.ID, store.EventOptionCreated, map[string]any{
			"questionId":       o.QuestionID,
			"optionId":         o.ID,
			"order":            o.Order,
			"structureVersion": st.StructureVersion,
		}))
	})
	if err != nil {
		return OptionView{}, s.fail(ctx, err)
	}
	return optionView(created), nil
}

func (s *Service) UpdateOption(ctx context.Context, caller access.Caller, target access.Target, fields UpdateOptionFields) (OptionView, error) {
	if fields.empty() {
		return OptionView{}, s.fail(ctx, validationError("body", "at least one field is required"))
	}

	var updated store.Option
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.authorize(ctx, tx, caller, target, study.OpUpdateOptionFields)
		if err != nil {
			return err
		}
		st, err := s.lockStudy(ctx, tx, path.StudyID, study.OpUpdateOptionFields)
		if err != nil {
			return err
		}
		o, err := tx.GetOption(ctx, path.OptionID)
		if err != nil {
			return err
		}

		var changed []string
		if fields.Text != nil {
			text, err := requireText("text", *fields.Text, maxOptionTextLength)
			if err != nil {
				return err
			}
			o.Text = text
			changed = append(changed, "text")
		}
		if fields.ImageURL != nil {
			imageURL, err := optionalImageURL(*fields.ImageURL)
			if err != nil {
				return err
			}
			o.ImageURL = imageURL
			changed = append(changed, "imageUrl")
		}
		o.UpdatedAt = s.now()
		if err := tx.UpdateOption(ctx, o); err != nil {
			return err
		}
		updated = o
		return tx.InsertEvent(ctx, s.newEvent(caller, st.ID, store.EventOptionUpdated, map[string]any{
			"questionId":       o.QuestionID,
			"optionId":         o.ID,
			"fields":           changed,
			"structureVersion": st.StructureVersion,
		}))
	})
	if err != nil {
		return OptionView{}, s.fail(ctx, err)
	}
	return optionView(updated), nil
}

func (s *Service) DeleteOption(ctx context.Context, caller access.Caller, target access.Target) error {
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		path, err := s.authorize(ctx, tx, caller, target, study.OpDeleteOption)
		if err != nil {
			return err
		}
		st, err := s.lockStudy(ctx, tx, path.StudyID, study.OpDeleteOption)
		if err != nil {
			return err
		}
		o, err := tx.GetOption(ctx, path.OptionID)
		if err != nil {
			return err
		}
		if err := tx.DeleteOption(ctx, o.ID); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, s.newEvent(caller, st.ID, store.EventOptionDeleted, map[string]any{
			"questionId":       o.QuestionID,
			"optionId":         o.ID,
			"order":            o.Order,
			"structureVersion": st.StructureVersion,
		}))
	})
	return s.fail(ctx, err)
}
