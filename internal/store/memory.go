package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"brandlift/api/internal/study"
)

// MemoryStore keeps everything in process. Transactions run one at a time
// against a cloned state that replaces the live state only on success.
type MemoryStore struct {
	mu    sync.RWMutex
	state memState
}

type memState struct {
	studies   map[string]Study
	questions map[string]Question
	options   map[string]Option
	comments  map[string]Comment
	signOffs  map[string]SignOff
	events    []StudyEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		studies:   make(map[string]Study),
		questions: make(map[string]Question),
		options:   make(map[string]Option),
		comments:  make(map[string]Comment),
		signOffs:  make(map[string]SignOff),
	}}
}

func (st memState) clone() memState {
	out := memState{
		studies:   make(map[string]Study, len(st.studies)),
		questions: make(map[string]Question, len(st.questions)),
		options:   make(map[string]Option, len(st.options)),
		comments:  make(map[string]Comment, len(st.comments)),
		signOffs:  make(map[string]SignOff, len(st.signOffs)),
		events:    make([]StudyEvent, len(st.events)),
	}
	for id, s := range st.studies {
		out.studies[id] = cloneStudy(s)
	}
	for id, q := range st.questions {
		out.questions[id] = q
	}
	for id, o := range st.options {
		out.options[id] = o
	}
	for id, c := range st.comments {
		out.comments[id] = cloneComment(c)
	}
	for id, s := range st.signOffs {
		out.signOffs[id] = cloneSignOff(s)
	}
	copy(out.events, st.events)
	return out
}

func cloneStudy(s Study) Study {
	if s.SecondaryKPIs != nil {
		s.SecondaryKPIs = append([]string(nil), s.SecondaryKPIs...)
	}
	return s
}

func cloneComment(c Comment) Comment {
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		c.ResolvedAt = &at
	}
	return c
}

func cloneSignOff(s SignOff) SignOff {
	if s.SignedOffAt != nil {
		at := *s.SignedOffAt
		s.SignedOffAt = &at
	}
	return s
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{memView{st: s.state.clone()}}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.st
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) read() memView {
	return memView{st: s.state}
}

func (s *MemoryStore) GetStudy(ctx context.Context, id string) (Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetStudy(ctx, id)
}

func (s *MemoryStore) ListStudies(ctx context.Context, filter StudyFilter) ([]Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListStudies(ctx, filter)
}

func (s *MemoryStore) SearchStudies(ctx context.Context, search StudySearch) ([]Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().SearchStudies(ctx, search)
}

func (s *MemoryStore) GetQuestion(ctx context.Context, id string) (Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetQuestion(ctx, id)
}

func (s *MemoryStore) ListQuestions(ctx context.Context, studyID string) ([]Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListQuestions(ctx, studyID)
}

func (s *MemoryStore) CountQuestions(ctx context.Context, studyID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CountQuestions(ctx, studyID)
}

func (s *MemoryStore) GetOption(ctx context.Context, id string) (Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetOption(ctx, id)
}

func (s *MemoryStore) ListOptions(ctx context.Context, questionID string) ([]Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListOptions(ctx, questionID)
}

func (s *MemoryStore) ListOptionsByStudy(ctx context.Context, studyID string) ([]Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListOptionsByStudy(ctx, studyID)
}

func (s *MemoryStore) ResolveOwnership(ctx context.Context, kind Kind, id string) (OwnershipPath, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ResolveOwnership(ctx, kind, id)
}

func (s *MemoryStore) ParentsOf(ctx context.Context, kind Kind, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ParentsOf(ctx, kind, ids)
}

func (s *MemoryStore) GetComment(ctx context.Context, id string) (Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetComment(ctx, id)
}

func (s *MemoryStore) ListComments(ctx context.Context, studyID string) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListComments(ctx, studyID)
}

func (s *MemoryStore) GetSignOff(ctx context.Context, studyID string) (SignOff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetSignOff(ctx, studyID)
}

func (s *MemoryStore) ListEvents(ctx context.Context, studyID string, limit int) ([]StudyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListEvents(ctx, studyID, limit)
}

// memView implements Reader over one state snapshot. Returned values are copies.
type memView struct {
	st memState
}

func (v memView) GetStudy(_ context.Context, id string) (Study, error) {
	s, ok := v.st.studies[id]
	if !ok {
		return Study{}, fmt.Errorf("study %s: %w", id, ErrNotFound)
	}
	return cloneStudy(s), nil
}

func (v memView) ListStudies(_ context.Context, filter StudyFilter) ([]Study, error) {
	var out []Study
	for _, s := range v.st.studies {
		if filter.OrgID != "" && s.OrgID != filter.OrgID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, cloneStudy(s))
	}
	sortStudies(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (v memView) SearchStudies(_ context.Context, search StudySearch) ([]Study, error) {
	needle := strings.ToLower(strings.TrimSpace(search.Text))
	if needle == "" {
		return nil, nil
	}
	var out []Study
	for _, s := range v.st.studies {
		if search.OrgID != "" && s.OrgID != search.OrgID {
			continue
		}
		if search.Status != "" && s.Status != search.Status {
			continue
		}
		haystack := strings.ToLower(s.Name + " " + s.PrimaryKPI + " " + strings.Join(s.SecondaryKPIs, " "))
		if strings.Contains(haystack, needle) {
			out = append(out, cloneStudy(s))
		}
	}
	sortStudies(out)
	if search.Limit > 0 && len(out) > search.Limit {
		out = out[:search.Limit]
	}
	return out, nil
}

func sortStudies(items []Study) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func (v memView) GetQuestion(_ context.Context, id string) (Question, error) {
	q, ok := v.st.questions[id]
	if !ok {
		return Question{}, fmt.Errorf("question %s: %w", id, ErrNotFound)
	}
	return q, nil
}

func (v memView) ListQuestions(_ context.Context, studyID string) ([]Question, error) {
	var out []Question
	for _, q := range v.st.questions {
		if q.StudyID == studyID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v memView) CountQuestions(_ context.Context, studyID string) (int, error) {
	count := 0
	for _, q := range v.st.questions {
		if q.StudyID == studyID {
			count++
		}
	}
	return count, nil
}

func (v memView) GetOption(_ context.Context, id string) (Option, error) {
	o, ok := v.st.options[id]
	if !ok {
		return Option{}, fmt.Errorf("option %s: %w", id, ErrNotFound)
	}
	return o, nil
}

func (v memView) ListOptions(_ context.Context, questionID string) ([]Option, error) {
	var out []Option
	for _, o := range v.st.options {
		if o.QuestionID == questionID {
			out = append(out, o)
		}
	}
	sortOptions(out)
	return out, nil
}

func (v memView) ListOptionsByStudy(_ context.Context, studyID string) ([]Option, error) {
	var out []Option
	for _, o := range v.st.options {
		if q, ok := v.st.questions[o.QuestionID]; ok && q.StudyID == studyID {
			out = append(out, o)
		}
	}
	sortOptions(out)
	return out, nil
}

func sortOptions(items []Option) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].QuestionID != items[j].QuestionID {
			return items[i].QuestionID < items[j].QuestionID
		}
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return items[i].ID < items[j].ID
	})
}

func (v memView) ResolveOwnership(_ context.Context, kind Kind, id string) (OwnershipPath, error) {
	path := OwnershipPath{Kind: kind}
	studyID := ""
	switch kind {
	case KindStudy:
		studyID = id
	case KindQuestion:
		q, ok := v.st.questions[id]
		if !ok {
			return OwnershipPath{}, fmt.Errorf("question %s: %w", id, ErrNotFound)
		}
		path.QuestionID = q.ID
		studyID = q.StudyID
	case KindOption:
		o, ok := v.st.options[id]
		if !ok {
			return OwnershipPath{}, fmt.Errorf("option %s: %w", id, ErrNotFound)
		}
		q, ok := v.st.questions[o.QuestionID]
		if !ok {
			return OwnershipPath{}, fmt.Errorf("question %s: %w", o.QuestionID, ErrNotFound)
		}
		path.OptionID = o.ID
		path.QuestionID = q.ID
		studyID = q.StudyID
	case KindComment:
		c, ok := v.st.comments[id]
		if !ok {
			return OwnershipPath{}, fmt.Errorf("comment %s: %w", id, ErrNotFound)
		}
		path.CommentID = c.ID
		studyID = c.StudyID
	default:
		return OwnershipPath{}, fmt.Errorf("resolve ownership: unknown kind %q", kind)
	}
	s, ok := v.st.studies[studyID]
	if !ok {
		return OwnershipPath{}, fmt.Errorf("study %s: %w", studyID, ErrNotFound)
	}
	path.StudyID = s.ID
	path.OrgID = s.OrgID
	path.StudyStatus = s.Status
	return path, nil
}

func (v memView) ParentsOf(_ context.Context, kind Kind, ids []string) (map[string]string, error) {
	parents := make(map[string]string, len(ids))
	for _, id := range ids {
		switch kind {
		case KindQuestion:
			if q, ok := v.st.questions[id]; ok {
				parents[id] = q.StudyID
			}
		case KindOption:
			if o, ok := v.st.options[id]; ok {
				parents[id] = o.QuestionID
			}
		default:
			return nil, fmt.Errorf("parents of: unsupported kind %q", kind)
		}
	}
	return parents, nil
}

func (v memView) GetComment(_ context.Context, id string) (Comment, error) {
	c, ok := v.st.comments[id]
	if !ok {
		return Comment{}, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	return cloneComment(c), nil
}

func (v memView) ListComments(_ context.Context, studyID string) ([]Comment, error) {
	var out []Comment
	for _, c := range v.st.comments {
		if c.StudyID == studyID {
			out = append(out, cloneComment(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v memView) ListEvents(_ context.Context, studyID string, limit int) ([]StudyEvent, error) {
	var out []StudyEvent
	for i := len(v.st.events) - 1; i >= 0; i-- {
		if v.st.events[i].StudyID != studyID {
			continue
		}
		out = append(out, v.st.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (v memView) GetSignOff(_ context.Context, studyID string) (SignOff, error) {
	s, ok := v.st.signOffs[studyID]
	if !ok {
		return SignOff{}, fmt.Errorf("sign-off for study %s: %w", studyID, ErrNotFound)
	}
	return cloneSignOff(s), nil
}

// memTx writes into the cloned state owned by one InTx call.
type memTx struct {
	memView
}

func (tx *memTx) InsertStudy(_ context.Context, s Study) error {
	if _, exists := tx.st.studies[s.ID]; exists {
		return fmt.Errorf("insert study %s: %w", s.ID, ErrConflict)
	}
	tx.st.studies[s.ID] = cloneStudy(s)
	return nil
}

func (tx *memTx) UpdateStudy(_ context.Context, s Study) error {
	current, ok := tx.st.studies[s.ID]
	if !ok {
		return fmt.Errorf("study %s: %w", s.ID, ErrNotFound)
	}
	s.OrgID = current.OrgID
	s.Status = current.Status
	s.StructureVersion = current.StructureVersion
	s.CreatedAt = current.CreatedAt
	s.CreatedBy = current.CreatedBy
	tx.st.studies[s.ID] = cloneStudy(s)
	return nil
}

func (tx *memTx) SetStudyStatus(_ context.Context, id string, from, to study.Status) error {
	s, ok := tx.st.studies[id]
	if !ok {
		return fmt.Errorf("study %s: %w", id, ErrNotFound)
	}
	if s.Status != from {
		return fmt.Errorf("study %s status is %s, not %s: %w", id, s.Status, from, ErrConflict)
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	tx.st.studies[id] = s
	return nil
}

func (tx *memTx) BumpStructureVersion(_ context.Context, studyID string) (int, error) {
	s, ok := tx.st.studies[studyID]
	if !ok {
		return 0, fmt.Errorf("study %s: %w", studyID, ErrNotFound)
	}
	s.StructureVersion++
	s.UpdatedAt = time.Now().UTC()
	tx.st.studies[studyID] = s
	return s.StructureVersion, nil
}

func (tx *memTx) InsertQuestion(_ context.Context, q Question) error {
	if _, ok := tx.st.studies[q.StudyID]; !ok {
		return fmt.Errorf("study %s: %w", q.StudyID, ErrNotFound)
	}
	if _, exists := tx.st.questions[q.ID]; exists {
		return fmt.Errorf("insert question %s: %w", q.ID, ErrConflict)
	}
	tx.st.questions[q.ID] = q
	return nil
}

func (tx *memTx) UpdateQuestion(_ context.Context, q Question) error {
	current, ok := tx.st.questions[q.ID]
	if !ok {
		return fmt.Errorf("question %s: %w", q.ID, ErrNotFound)
	}
	q.StudyID = current.StudyID
	q.Order = current.Order
	q.CreatedAt = current.CreatedAt
	tx.st.questions[q.ID] = q
	return nil
}

func (tx *memTx) DeleteQuestion(_ context.Context, id string) error {
	if _, ok := tx.st.questions[id]; !ok {
		return fmt.Errorf("question %s: %w", id, ErrNotFound)
	}
	delete(tx.st.questions, id)
	for optionID, o := range tx.st.options {
		if o.QuestionID == id {
			delete(tx.st.options, optionID)
		}
	}
	for commentID, c := range tx.st.comments {
		if c.QuestionID == id {
			c.QuestionID = ""
			tx.st.comments[commentID] = c
		}
	}
	return nil
}

func (tx *memTx) SetQuestionOrder(_ context.Context, id string, order int) error {
	q, ok := tx.st.questions[id]
	if !ok {
		return fmt.Errorf("question %s: %w", id, ErrNotFound)
	}
	q.Order = order
	q.UpdatedAt = time.Now().UTC()
	tx.st.questions[id] = q
	return nil
}

func (tx *memTx) InsertOption(_ context.Context, o Option) error {
	if _, ok := tx.st.questions[o.QuestionID]; !ok {
		return fmt.Errorf("question %s: %w", o.QuestionID, ErrNotFound)
	}
	if _, exists := tx.st.options[o.ID]; exists {
		return fmt.Errorf("insert option %s: %w", o.ID, ErrConflict)
	}
	tx.st.options[o.ID] = o
	return nil
}

func (tx *memTx) UpdateOption(_ context.Context, o Option) error {
	current, ok := tx.st.options[o.ID]
	if !ok {
		return fmt.Errorf("option %s: %w", o.ID, ErrNotFound)
	}
	o.QuestionID = current.QuestionID
	o.Order = current.Order
	o.CreatedAt = current.CreatedAt
	tx.st.options[o.ID] = o
	return nil
}

func (tx *memTx) DeleteOption(_ context.Context, id string) error {
	if _, ok := tx.st.options[id]; !ok {
		return fmt.Errorf("option %s: %w", id, ErrNotFound)
	}
	delete(tx.st.options, id)
	return nil
}

func (tx *memTx) SetOptionOrder(_ context.Context, id string, order int) error {
	o, ok := tx.st.options[id]
	if !ok {
		return fmt.Errorf("option %s: %w", id, ErrNotFound)
	}
	o.Order = order
	o.UpdatedAt = time.Now().UTC()
	tx.st.options[id] = o
	return nil
}

func (tx *memTx) InsertComment(_ context.Context, c Comment) error {
	if _, ok := tx.st.studies[c.StudyID]; !ok {
		return fmt.Errorf("study %s: %w", c.StudyID, ErrNotFound)
	}
	tx.st.comments[c.ID] = cloneComment(c)
	return nil
}

func (tx *memTx) UpdateComment(_ context.Context, c Comment) error {
	current, ok := tx.st.comments[c.ID]
	if !ok {
		return fmt.Errorf("comment %s: %w", c.ID, ErrNotFound)
	}
	c.StudyID = current.StudyID
	c.CreatedAt = current.CreatedAt
	tx.st.comments[c.ID] = cloneComment(c)
	return nil
}

func (tx *memTx) InsertEvent(_ context.Context, e StudyEvent) error {
	tx.st.events = append(tx.st.events, e)
	return nil
}

func (tx *memTx) SaveSignOff(_ context.Context, s SignOff) error {
	if _, ok := tx.st.studies[s.StudyID]; !ok {
		return fmt.Errorf("study %s: %w", s.StudyID, ErrNotFound)
	}
	tx.st.signOffs[s.StudyID] = cloneSignOff(s)
	return nil
}
