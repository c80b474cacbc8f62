package app

import (
	"errors"
	"fmt"
	"net/http"

	"brandlift/api/internal/access"
	"brandlift/api/internal/export"
	"brandlift/api/internal/gitrepo"
	"brandlift/api/internal/ordering"
	"brandlift/api/internal/store"
	"brandlift/api/internal/study"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(field, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, map[string]any{"field": field})
}

// VersionConflictError is returned when a reorder names a structure version
// the study has already moved past.
type VersionConflictError struct {
	Expected int
	Actual   int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("structure version is %d, expected %d", e.Actual, e.Expected)
}

var errRoleForbidden = fmt.Errorf("role does not permit this action: %w", access.ErrForbidden)

// toDomainError converts the typed errors of the pure packages and the store
// into the response shape. Errors it does not recognize pass through unchanged
// and surface as a server error.
func toDomainError(err error) error {
	if err == nil {
		return nil
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}

	var notEditable *study.NotEditableError
	if errors.As(err, &notEditable) {
		return domainError(http.StatusConflict, "STUDY_NOT_EDITABLE", notEditable.Error(), map[string]any{
			"status":          notEditable.Status,
			"operation":       notEditable.Operation,
			"allowedStatuses": nonNilStatuses(notEditable.AllowedStatuses),
		})
	}

	var transitionErr *study.TransitionError
	if errors.As(err, &transitionErr) {
		details := map[string]any{
			"from":    transitionErr.From,
			"to":      transitionErr.To,
			"allowed": nonNilStatuses(transitionErr.Allowed),
		}
		if transitionErr.Reason != "" {
			details["reason"] = transitionErr.Reason
		}
		return domainError(http.StatusConflict, "INVALID_TRANSITION", transitionErr.Error(), details)
	}

	var orderConflict *store.OrderConflictError
	if errors.As(err, &orderConflict) {
		return domainError(http.StatusConflict, "ORDER_CONFLICT", orderConflict.Error(), map[string]any{
			"order":         orderConflict.Order,
			"conflictingId": orderConflict.ConflictingID,
		})
	}

	var versionConflict *VersionConflictError
	if errors.As(err, &versionConflict) {
		return domainError(http.StatusConflict, "VERSION_CONFLICT", versionConflict.Error(), map[string]any{
			"expected": versionConflict.Expected,
			"actual":   versionConflict.Actual,
		})
	}

	var membership *ordering.MembershipError
	if errors.As(err, &membership) {
		return domainError(http.StatusUnprocessableEntity, "REORDER_MEMBERSHIP_MISMATCH", membership.Error(), map[string]any{
			"parentId":   membership.ParentID,
			"mismatched": nonNilStrings(membership.Mismatched),
		})
	}

	var orderingErr *ordering.ValidationError
	if errors.As(err, &orderingErr) {
		var details any
		if len(orderingErr.Violations) > 0 {
			details = map[string]any{"violations": orderingErr.Violations}
		}
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", orderingErr.Error(), details)
	}

	switch {
	case errors.Is(err, access.ErrUnauthenticated):
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	case errors.Is(err, access.ErrForbidden):
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, gitrepo.ErrRevisionNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, store.ErrConflict):
		return domainError(http.StatusConflict, "CONFLICT", "The study was changed by another request; retry", nil)
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil)
	case errors.Is(err, export.ErrUnsupportedFormat):
		return validationError("format", "format must be json, pdf or docx")
	}
	return err
}

func nonNilStatuses(in []study.Status) []study.Status {
	if in == nil {
		return []study.Status{}
	}
	return in
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
