// Package rbac holds the access policy table: given a role, an action, and
// the resource being acted on, it decides permit or deny. Decisions are pure;
// callers enforce them before issuing any store mutation.
package rbac

type Role string
type Action string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

const (
	ActionCreateTask         Action = "create_task"
	ActionEditTask           Action = "edit_task"
	ActionDeleteTask         Action = "delete_task"
	ActionCompleteTask       Action = "complete_task"
	ActionViewTasks          Action = "view_tasks"
	ActionManageAllowlist    Action = "manage_allowlist"
	ActionDeleteAllowedEmail Action = "delete_allowed_email"
	ActionManageUsers        Action = "manage_users"
	ActionViewRoster         Action = "view_roster"
	ActionViewProgress       Action = "view_progress"
	ActionViewAttachments    Action = "view_attachments"
)

// Resource carries the ownership facts a decision may depend on. The zero
// value is valid for actions that are role-gated only.
type Resource struct {
	// CreatedBy is the principal that created the task.
	CreatedBy string
	// AssignedTo is the principal the task is assigned to.
	AssignedTo string
	// OwnerIsAdmin is set when an allow-list entry belongs to a principal
	// currently holding the admin role.
	OwnerIsAdmin bool
}

// Decide returns true when role/principal may perform action on res.
// An allow-list entry owned by an admin can never be deleted, regardless of
// the caller's role; this protects the workspace from admin lockout.
func Decide(role Role, principalID string, action Action, res Resource) bool {
	if action == ActionDeleteAllowedEmail && res.OwnerIsAdmin {
		return false
	}

	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		switch action {
		case ActionCreateTask, ActionCompleteTask, ActionViewTasks, ActionViewRoster, ActionViewProgress:
			return true
		case ActionEditTask, ActionDeleteTask:
			return res.CreatedBy == principalID
		default:
			return false
		}
	case RoleMember:
		switch action {
		case ActionViewTasks:
			return true
		case ActionCompleteTask:
			return res.AssignedTo == principalID
		default:
			return false
		}
	default:
		// Unknown or not-yet-assigned role: deny everything privileged.
		return action == ActionViewTasks
	}
}
