package rbac

import "brandlift/api/internal/study"

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleEditor   Role = "editor"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionAuthor  Action = "author"
	ActionComment Action = "comment"
	ActionReview  Action = "review"
	ActionManage  Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleReviewer:
		return action == ActionRead || action == ActionComment || action == ActionReview
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionAuthor
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleReviewer, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// ForTransition is the action a caller needs to fire t.
func ForTransition(t study.Transition) Action {
	switch t {
	case study.TransitionSubmit, study.TransitionReopen:
		return ActionAuthor
	case study.TransitionApprove, study.TransitionReject, study.TransitionRequestChanges:
		return ActionReview
	default:
		return ActionManage
	}
}

// ForOperation is the action a caller needs to perform op.
func ForOperation(op study.Operation) Action {
	switch op {
	case study.OpReadStructure:
		return ActionRead
	case study.OpAddComment, study.OpResolveComment:
		return ActionComment
	case study.OpSignOff:
		return ActionReview
	default:
		return ActionAuthor
	}
}
