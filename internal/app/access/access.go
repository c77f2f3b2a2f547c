package access

// Pure authorization decisions over a task snapshot. No side effects and no
// storage access: callers supply the task state and the acting user
// identifier decoded from the verified credential.

type Operation string

const (
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpShare  Operation = "share"
)

// TaskSnapshot is the slice of task state authorization depends on.
type TaskSnapshot struct {
	CreatedBy     string
	AssignedUsers []string
}

type Decision struct {
	Allowed bool
	Reason  string
}

var (
	allow        = Decision{Allowed: true}
	denyNotOwner = Decision{Allowed: false, Reason: "not authorized"}
)

// Decide evaluates whether the actor may perform op on the task. Mutating
// operations (update, delete, share) are reserved for the task's creator.
// Read follows assignment visibility.
func Decide(actorUserID string, task TaskSnapshot, op Operation) Decision {
	switch op {
	case OpUpdate, OpDelete, OpShare:
		if actorUserID != "" && actorUserID == task.CreatedBy {
			return allow
		}
		return denyNotOwner
	case OpRead:
		if Visible(actorUserID, task) {
			return allow
		}
		return denyNotOwner
	default:
		return Decision{Allowed: false, Reason: "unknown operation"}
	}
}

// Visible reports whether the task shows up in the actor's listing: the
// actor is the creator or one of the assigned users. List queries apply the
// same predicate at the storage layer.
func Visible(actorUserID string, task TaskSnapshot) bool {
	if actorUserID == "" {
		return false
	}
	if actorUserID == task.CreatedBy {
		return true
	}
	for _, assigned := range task.AssignedUsers {
		if assigned == actorUserID {
			return true
		}
	}
	return false
}
