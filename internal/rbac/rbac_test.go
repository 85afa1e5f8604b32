package rbac

import "testing"

func TestDecide(t *testing.T) {
	owned := Resource{CreatedBy: "mgr-1", AssignedTo: "mem-1"}
	foreign := Resource{CreatedBy: "mgr-2", AssignedTo: "mem-2"}

	cases := []struct {
		name      string
		role      Role
		principal string
		action    Action
		res       Resource
		allow     bool
	}{
		{name: "admin create task", role: RoleAdmin, principal: "adm-1", action: ActionCreateTask, allow: true},
		{name: "manager create task", role: RoleManager, principal: "mgr-1", action: ActionCreateTask, allow: true},
		{name: "member create task", role: RoleMember, principal: "mem-1", action: ActionCreateTask, allow: false},

		{name: "admin edit any task", role: RoleAdmin, principal: "adm-1", action: ActionEditTask, res: foreign, allow: true},
		{name: "manager edit own task", role: RoleManager, principal: "mgr-1", action: ActionEditTask, res: owned, allow: true},
		{name: "manager edit foreign task", role: RoleManager, principal: "mgr-1", action: ActionEditTask, res: foreign, allow: false},
		{name: "member edit task", role: RoleMember, principal: "mem-1", action: ActionEditTask, res: owned, allow: false},

		{name: "admin delete any task", role: RoleAdmin, principal: "adm-1", action: ActionDeleteTask, res: foreign, allow: true},
		{name: "manager delete own task", role: RoleManager, principal: "mgr-1", action: ActionDeleteTask, res: owned, allow: true},
		{name: "manager delete foreign task", role: RoleManager, principal: "mgr-1", action: ActionDeleteTask, res: foreign, allow: false},
		{name: "member delete task", role: RoleMember, principal: "mem-1", action: ActionDeleteTask, res: owned, allow: false},

		{name: "admin complete task", role: RoleAdmin, principal: "adm-1", action: ActionCompleteTask, res: foreign, allow: true},
		{name: "manager complete task", role: RoleManager, principal: "mgr-1", action: ActionCompleteTask, res: foreign, allow: true},
		{name: "member complete own task", role: RoleMember, principal: "mem-1", action: ActionCompleteTask, res: owned, allow: true},
		{name: "member complete foreign task", role: RoleMember, principal: "mem-1", action: ActionCompleteTask, res: foreign, allow: false},

		{name: "admin view tasks", role: RoleAdmin, principal: "adm-1", action: ActionViewTasks, allow: true},
		{name: "manager view tasks", role: RoleManager, principal: "mgr-1", action: ActionViewTasks, allow: true},
		{name: "member view tasks", role: RoleMember, principal: "mem-1", action: ActionViewTasks, allow: true},

		{name: "admin manage allowlist", role: RoleAdmin, principal: "adm-1", action: ActionManageAllowlist, allow: true},
		{name: "manager manage allowlist", role: RoleManager, principal: "mgr-1", action: ActionManageAllowlist, allow: false},
		{name: "member manage allowlist", role: RoleMember, principal: "mem-1", action: ActionManageAllowlist, allow: false},

		{name: "admin delete plain allowed email", role: RoleAdmin, principal: "adm-1", action: ActionDeleteAllowedEmail, allow: true},
		{name: "admin delete admin allowed email", role: RoleAdmin, principal: "adm-1", action: ActionDeleteAllowedEmail, res: Resource{OwnerIsAdmin: true}, allow: false},
		{name: "manager delete admin allowed email", role: RoleManager, principal: "mgr-1", action: ActionDeleteAllowedEmail, res: Resource{OwnerIsAdmin: true}, allow: false},
		{name: "member delete admin allowed email", role: RoleMember, principal: "mem-1", action: ActionDeleteAllowedEmail, res: Resource{OwnerIsAdmin: true}, allow: false},

		{name: "admin manage users", role: RoleAdmin, principal: "adm-1", action: ActionManageUsers, allow: true},
		{name: "manager manage users", role: RoleManager, principal: "mgr-1", action: ActionManageUsers, allow: false},
		{name: "member manage users", role: RoleMember, principal: "mem-1", action: ActionManageUsers, allow: false},

		{name: "admin view roster", role: RoleAdmin, principal: "adm-1", action: ActionViewRoster, allow: true},
		{name: "manager view roster", role: RoleManager, principal: "mgr-1", action: ActionViewRoster, allow: true},
		{name: "member view roster", role: RoleMember, principal: "mem-1", action: ActionViewRoster, allow: false},

		{name: "admin view progress", role: RoleAdmin, principal: "adm-1", action: ActionViewProgress, allow: true},
		{name: "manager view progress", role: RoleManager, principal: "mgr-1", action: ActionViewProgress, allow: true},
		{name: "member view progress", role: RoleMember, principal: "mem-1", action: ActionViewProgress, allow: false},

		{name: "admin view attachments", role: RoleAdmin, principal: "adm-1", action: ActionViewAttachments, allow: true},
		{name: "manager view attachments", role: RoleManager, principal: "mgr-1", action: ActionViewAttachments, allow: false},
		{name: "member view attachments", role: RoleMember, principal: "mem-1", action: ActionViewAttachments, allow: false},

		{name: "unresolved role views tasks only", role: Role("pending"), principal: "usr-1", action: ActionViewTasks, allow: true},
		{name: "unresolved role denied create", role: Role("pending"), principal: "usr-1", action: ActionCreateTask, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Decide(tc.role, tc.principal, tc.action, tc.res); got != tc.allow {
				t.Fatalf("Decide(%q, %q, %q, %+v) = %v, want %v", tc.role, tc.principal, tc.action, tc.res, got, tc.allow)
			}
		})
	}
}
