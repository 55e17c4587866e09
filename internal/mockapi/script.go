package mockapi

import "strings"

// script is what Alia says to one stakeholder. Every line but the last
// expects a reply; the last one closes the conversation.
type script struct {
	skill string
	lines []string
}

var roleScripts = []struct {
	role   string
	script script
}{
	{"backend developer", script{
		skill: "Root cause analysis",
		lines: []string{
			"Hi {name}! I'm Alia. I'd like to understand how you tracked down \"{bug}\". Where did you start?",
			"What was the underlying cause, and how did you confirm it?",
			"Thanks {name}, that gives me a clear picture of your investigation.",
		},
	}},
	{"qa lead", script{
		skill: "Testing discipline",
		lines: []string{
			"Hi {name}! I'm Alia, verifying the fix for \"{bug}\" by {subject}. How did you validate it?",
			"Did the fix come with regression tests you trust?",
			"Thank you {name}, your feedback has been recorded.",
		},
	}},
	{"tech lead", script{
		skill: "Code quality",
		lines: []string{
			"Hi {name}! I'm Alia. You reviewed {subject}'s change for \"{bug}\". How would you rate the solution?",
			"Were there any trade-offs or follow-ups you asked for?",
			"Thanks {name}, that's everything I needed.",
		},
	}},
	{"product manager", script{
		skill: "Business impact awareness",
		lines: []string{
			"Hi {name}! I'm Alia. What was the business impact of \"{bug}\" before it was fixed?",
			"How did {subject} keep you informed while working on it?",
			"Thank you {name}, this helps a lot.",
		},
	}},
	{"customer support", script{
		skill: "Customer communication",
		lines: []string{
			"Hi {name}! I'm Alia. Did customers report \"{bug}\" to support?",
			"Have the complaints stopped since {subject}'s fix shipped?",
			"Thanks {name}, I have what I need.",
		},
	}},
}

var genericScript = script{
	skill: "Collaboration",
	lines: []string{
		"Hi {name}! I'm Alia. How were you involved with \"{bug}\"?",
		"How was working with {subject} on it?",
		"Thanks {name}, that's all for now.",
	},
}

func scriptFor(role string) script {
	role = strings.ToLower(role)
	for _, rs := range roleScripts {
		if strings.Contains(role, rs.role) {
			return rs.script
		}
	}
	return genericScript
}

// render fills in the names of the stakeholder, the subject and the bug.
func (s script) render(name, subject, bug string) []string {
	r := strings.NewReplacer("{name}", name, "{subject}", subject, "{bug}", bug)
	out := make([]string, len(s.lines))
	for i, line := range s.lines {
		out[i] = r.Replace(line)
	}
	return out
}
