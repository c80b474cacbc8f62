package study

import "fmt"

// Operation is a typed request against a study or its structure.
type Operation string

const (
	OpCreateQuestion       Operation = "CreateQuestion"
	OpUpdateQuestionFields Operation = "UpdateQuestionFields"
	OpDeleteQuestion       Operation = "DeleteQuestion"
	OpReorderQuestions     Operation = "ReorderQuestions"
	OpCreateOption         Operation = "CreateOption"
	OpUpdateOptionFields   Operation = "UpdateOptionFields"
	OpDeleteOption         Operation = "DeleteOption"
	OpReorderOptions       Operation = "ReorderOptions"
	OpUpdateStudyDetails   Operation = "UpdateStudyDetails"
	OpAddComment           Operation = "AddComment"
	OpResolveComment       Operation = "ResolveComment"
	OpReadStructure        Operation = "ReadStructure"
	OpDuplicateStudy       Operation = "DuplicateStudy"
	OpRequestSignOff       Operation = "RequestSignOff"
	OpSignOff              Operation = "SignOff"
)

var (
	editableStatuses = []Status{StatusDraft, StatusPendingApproval}
	reviewStatuses   = []Status{StatusPendingApproval, StatusApproved, StatusRejected, StatusCollecting, StatusCompleted}
)

// mutability is the state x operation table. An operation absent from a
// status row is denied.
var mutability = buildMutability(map[Operation][]Status{
	OpCreateQuestion:       editableStatuses,
	OpUpdateQuestionFields: editableStatuses,
	OpDeleteQuestion:       editableStatuses,
	OpReorderQuestions:     editableStatuses,
	OpCreateOption:         editableStatuses,
	OpUpdateOptionFields:   editableStatuses,
	OpDeleteOption:         editableStatuses,
	OpReorderOptions:       editableStatuses,
	OpUpdateStudyDetails:   editableStatuses,
	OpAddComment:           reviewStatuses,
	OpResolveComment:       reviewStatuses,
	OpReadStructure:        Statuses,
	OpDuplicateStudy:       Statuses,
	OpRequestSignOff:       {StatusPendingApproval, StatusApproved},
	OpSignOff:              {StatusApproved},
})

func buildMutability(byOperation map[Operation][]Status) map[Status]map[Operation]bool {
	table := make(map[Status]map[Operation]bool, len(Statuses))
	for _, status := range Statuses {
		table[status] = make(map[Operation]bool)
	}
	for op, statuses := range byOperation {
		for _, status := range statuses {
			table[status][op] = true
		}
	}
	return table
}

// IsStructural reports whether op changes the question/option structure.
func (op Operation) IsStructural() bool {
	switch op {
	case OpCreateQuestion, OpUpdateQuestionFields, OpDeleteQuestion, OpReorderQuestions,
		OpCreateOption, OpUpdateOptionFields, OpDeleteOption, OpReorderOptions:
		return true
	default:
		return false
	}
}

// NotEditableError is returned when status does not admit op.
type NotEditableError struct {
	Status          Status
	Operation       Operation
	AllowedStatuses []Status
}

func (e *NotEditableError) Error() string {
	return fmt.Sprintf("study in status %s does not allow %s", e.Status, e.Operation)
}

// Allows evaluates the table.
func Allows(status Status, op Operation) bool {
	return mutability[status][op]
}

// AllowedStatuses returns, in lifecycle order, the statuses that admit op.
func AllowedStatuses(op Operation) []Status {
	var out []Status
	for _, status := range Statuses {
		if mutability[status][op] {
			out = append(out, status)
		}
	}
	return out
}

// CheckOperation returns a *NotEditableError when status does not admit op.
func CheckOperation(status Status, op Operation) error {
	if Allows(status, op) {
		return nil
	}
	return &NotEditableError{Status: status, Operation: op, AllowedStatuses: AllowedStatuses(op)}
}
