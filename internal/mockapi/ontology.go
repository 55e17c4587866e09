package mockapi

import (
	"encoding/json"
	"time"
)

// The report is generated in the backend's raw format, the same shape the
// console parses from a real deployment.
type rawOntology struct {
	OntologyKey               string     `json:"skill_ontologie_key"`
	SessionKey                string     `json:"session_key"`
	Subject                   rawSubject `json:"subject"`
	Session                   rawSession `json:"session"`
	BusinessImpactDescription string     `json:"business_impact_description"`
	VerifiedSkills            []rawSkill `json:"verified_skills"`
	ConfidenceScore           float64    `json:"confidence_score"`
	GeneratedAt               string     `json:"generated_at"`
	CreatedAt                 string     `json:"created_at"`
}

type rawSubject struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	EmployeeKey string `json:"employee_key"`
}

type rawSession struct {
	Bug rawBug `json:"bug"`
}

type rawBug struct {
	BugKey   string `json:"bug_key"`
	Title    string `json:"title"`
	Severity string `json:"severity"`
}

type rawSkill struct {
	SkillName           string            `json:"skill_name"`
	EvidenceDescription string            `json:"evidence_description"`
	ConfidenceLevel     string            `json:"confidence_level"`
	BusinessImpactScore int               `json:"business_impact_score"`
	SkillVerifications  []rawVerification `json:"skill_verifications"`
}

type rawVerification struct {
	Verifier            rawSubject `json:"verifier"`
	VerificationRole    string     `json:"verification_role"`
	VerificationRating  int        `json:"verification_rating"`
	VerificationComment string     `json:"verification_comment"`
}

const maxQuote = 160

func (s *store) buildOntologyLocked(rec *sessionRecord) json.RawMessage {
	stamp := s.now().UTC().Format(time.RFC3339)
	out := rawOntology{
		OntologyKey: rec.ontologyKey,
		SessionKey:  rec.key,
		GeneratedAt: stamp,
		CreatedAt:   stamp,
	}
	if bug := s.bugLocked(rec.bugKey); bug != nil {
		out.Session.Bug = rawBug{BugKey: bug.BugKey, Title: bug.Title, Severity: bug.Severity}
		out.BusinessImpactDescription = "Resolved \"" + bug.Title + "\" in production."
		if subject, ok := s.employeeLocked(bug.AssigneeKey); ok {
			out.Subject = rawSubject{Name: subject.Name, Role: subject.Role, EmployeeKey: subject.EmployeeKey}
		}
	}
	impact := impactScore(out.Session.Bug.Severity)

	var ratingTotal int
	for _, key := range rec.conversations {
		conv := s.conversations[key]
		rating := ratingFor(conv.replies)
		ratingTotal += rating
		evidence := "No statement given."
		if len(conv.replies) > 0 {
			evidence = truncate(conv.replies[0], maxQuote)
		}
		out.VerifiedSkills = append(out.VerifiedSkills, rawSkill{
			SkillName:           conv.skill,
			EvidenceDescription: evidence,
			ConfidenceLevel:     confidenceLabel(rating),
			BusinessImpactScore: impact,
			SkillVerifications: []rawVerification{{
				Verifier:            rawSubject{Name: conv.employee.Name, Role: conv.employee.Role, EmployeeKey: conv.employee.EmployeeKey},
				VerificationRole:    conv.employee.UserType,
				VerificationRating:  rating,
				VerificationComment: lastReply(conv.replies),
			}},
		})
	}
	if n := len(rec.conversations); n > 0 {
		out.ConfidenceScore = float64(ratingTotal) / float64(n*5)
	}
	data, _ := json.Marshal(out)
	return data
}

// ratingFor scores a stakeholder's engagement on the 0..5 scale.
func ratingFor(replies []string) int {
	rating := 2 + len(replies)
	for _, r := range replies {
		if len(r) >= 80 {
			rating++
			break
		}
	}
	if rating > 5 {
		rating = 5
	}
	return rating
}

func confidenceLabel(rating int) string {
	switch {
	case rating >= 4:
		return "high"
	case rating == 3:
		return "medium"
	default:
		return "low"
	}
}

func impactScore(severity string) int {
	switch severity {
	case "P0":
		return 5
	case "P1":
		return 4
	case "P2":
		return 3
	case "P3":
		return 2
	}
	return 3
}

func lastReply(replies []string) string {
	if len(replies) == 0 {
		return ""
	}
	return truncate(replies[len(replies)-1], maxQuote)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
