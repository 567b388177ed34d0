package protocol

import "testing"

func TestAllowed(t *testing.T) {
	cases := []struct {
		role, typ string
		want      bool
	}{
		{"", TypeRequestState, true},
		{"viewer", TypeActionComplete, false},
		{"mover", TypeActionComplete, true},
		{"MOVER", TypeSyncState, true},
		{"mover", TypeReset, false},
		{"admin", TypeReset, true},
		{"admin", TypeAdminRemove, true},
		{"admin", TypeSubscribe, false},
		{"root", TypeAdminBuild, false},
	}
	for _, tc := range cases {
		if got := Allowed(tc.role, tc.typ); got != tc.want {
			t.Fatalf("Allowed(%q,%q)=%v want %v", tc.role, tc.typ, got, tc.want)
		}
	}
}
