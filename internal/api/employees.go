package api

import "strings"

// defaultParticipantRoles are the roles preselected when a session is set up.
var defaultParticipantRoles = []string{
	"backend developer",
	"qa lead",
	"tech lead",
	"product manager",
	"customer support",
}

// IsDefaultParticipant reports whether an employee with role takes part in
// a verification session by default.
func IsDefaultParticipant(role string) bool {
	role = strings.ToLower(role)
	for _, want := range defaultParticipantRoles {
		if strings.Contains(role, want) {
			return true
		}
	}
	return false
}

// DefaultParticipants filters employees down to the preselected ones,
// keeping their order.
func DefaultParticipants(employees []Employee) []Employee {
	out := make([]Employee, 0, len(employees))
	for _, e := range employees {
		if IsDefaultParticipant(e.Role) {
			out = append(out, e)
		}
	}
	return out
}

// PendingVerification reports whether bug is resolved but its verification
// has not completed yet. These are the bugs offered on the home screen.
func PendingVerification(bug Bug) bool {
	return strings.EqualFold(bug.Status, "completed") && !strings.EqualFold(bug.SessionStatus, string(SessionCompleted))
}

// AvatarPalette is the fixed set of avatar colours.
var AvatarPalette = []string{
	"#3B82F6",
	"#10B981",
	"#8B5CF6",
	"#F59E0B",
	"#EF4444",
	"#06B6D4",
	"#84CC16",
	"#F97316",
}

// AvatarColor picks a stable palette colour from the character codes of name.
func AvatarColor(name string) string {
	sum := 0
	for _, r := range name {
		sum += int(r)
	}
	return AvatarPalette[sum%len(AvatarPalette)]
}

// Initials returns up to two upper-cased initials of name.
func Initials(name string) string {
	var out []rune
	for _, part := range strings.Fields(name) {
		out = append(out, []rune(part)[0])
		if len(out) == 2 {
			break
		}
	}
	return strings.ToUpper(string(out))
}
