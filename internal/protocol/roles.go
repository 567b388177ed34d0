package protocol

import "strings"

// Inbound message types each role may send. Admins may send everything.
var permissions = map[string]map[string]bool{
	RoleViewer: {
		TypeSetSpeed:        true,
		TypeRequestDecision: true,
		TypeRequestState:    true,
	},
	RoleMover: {
		TypeSetSpeed:        true,
		TypeRequestDecision: true,
		TypeRequestState:    true,
		TypeActionComplete:  true,
		TypeSyncState:       true,
	},
}

// NormalizeRole maps empty or unknown roles to viewer.
func NormalizeRole(role string) string {
	switch r := strings.ToLower(strings.TrimSpace(role)); r {
	case RoleMover, RoleAdmin:
		return r
	}
	return RoleViewer
}

func Allowed(role, typ string) bool {
	role = NormalizeRole(role)
	if role == RoleAdmin {
		return typ != TypeSubscribe
	}
	return permissions[role][typ]
}
