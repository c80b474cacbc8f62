// Package ordering validates caller supplied sibling orders. It is pure:
// membership facts are passed in by the caller that loaded them.
package ordering

import (
	"fmt"
	"sort"
	"strings"
)

// Update moves one child to a new zero-based position.
type Update struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// Violation describes one offending input.
type Violation struct {
	Field  string `json:"field"`
	ID     string `json:"id,omitempty"`
	Order  *int   `json:"order,omitempty"`
	Reason string `json:"reason"`
}

// ValidationError is returned for malformed orders or batches.
type ValidationError struct {
	Message    string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return e.Message
	}
	reasons := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		reasons = append(reasons, v.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(reasons, "; "))
}

// ValidateOrder checks a single explicit order value.
func ValidateOrder(order int) error {
	if order < 0 {
		return &ValidationError{
			Message:    "order must be a non-negative integer",
			Violations: []Violation{{Field: "order", Order: &order, Reason: "negative order"}},
		}
	}
	return nil
}

// ValidateBatch checks the shape of a reorder request before any data is read:
// it must be non-empty, ids present and unique, orders non-negative and unique.
func ValidateBatch(updates []Update) error {
	if len(updates) == 0 {
		return &ValidationError{Message: "reorder requires at least one item"}
	}

	var violations []Violation
	seenIDs := make(map[string]struct{}, len(updates))
	seenOrders := make(map[int]string, len(updates))
	for i, u := range updates {
		id := strings.TrimSpace(u.ID)
		order := u.Order
		if id == "" {
			violations = append(violations, Violation{Field: fmt.Sprintf("items[%d].id", i), Reason: "id is required"})
		} else if _, dup := seenIDs[id]; dup {
			violations = append(violations, Violation{Field: fmt.Sprintf("items[%d].id", i), ID: id, Reason: "duplicate id " + id})
		} else {
			seenIDs[id] = struct{}{}
		}
		if order < 0 {
			violations = append(violations, Violation{Field: fmt.Sprintf("items[%d].order", i), ID: id, Order: &order, Reason: "negative order"})
			continue
		}
		if other, dup := seenOrders[order]; dup {
			violations = append(violations, Violation{
				Field:  fmt.Sprintf("items[%d].order", i),
				ID:     id,
				Order:  &order,
				Reason: fmt.Sprintf("order %d also assigned to %s", order, other),
			})
			continue
		}
		seenOrders[order] = id
	}

	if len(violations) > 0 {
		return &ValidationError{Message: "invalid reorder batch", Violations: violations}
	}
	return nil
}

// Normalize trims ids and returns a copy sorted by id, so concurrent writers
// touch rows in the same sequence.
func Normalize(updates []Update) []Update {
	out := make([]Update, len(updates))
	for i, u := range updates {
		out[i] = Update{ID: strings.TrimSpace(u.ID), Order: u.Order}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the ids of updates in input order.
func IDs(updates []Update) []string {
	ids := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
	}
	return ids
}

// MembershipError reports ids that are not direct children of the parent.
// Unknown ids and children of other parents are listed together so the error
// says nothing about entities outside the parent.
type MembershipError struct {
	ParentID   string
	Mismatched []string
}

func (e *MembershipError) Error() string {
	return fmt.Sprintf("reorder of %s names %d ids that are not its children", e.ParentID, len(e.Mismatched))
}

// CheckMembership compares the requested ids with the parent each one actually
// has. parents maps every id that exists to its direct parent id.
func CheckMembership(parentID string, updates []Update, parents map[string]string) error {
	var mismatched []string
	for _, u := range updates {
		if actual, ok := parents[u.ID]; !ok || actual != parentID {
			mismatched = append(mismatched, u.ID)
		}
	}
	if len(mismatched) > 0 {
		return &MembershipError{ParentID: parentID, Mismatched: mismatched}
	}
	return nil
}

// HasGaps reports whether orders, taken as a set, are not exactly 0..n-1.
func HasGaps(orders []int) bool {
	seen := make(map[int]struct{}, len(orders))
	for _, o := range orders {
		if o < 0 || o >= len(orders) {
			return true
		}
		if _, dup := seen[o]; dup {
			return true
		}
		seen[o] = struct{}{}
	}
	return false
}
