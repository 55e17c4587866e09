// Package report turns the backend's skill-ontology payload into a typed
// competency report and projects session progress for display.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Confidence values for the backend's confidence labels.
const (
	ConfidenceHigh   = 0.9
	ConfidenceMedium = 0.7
	ConfidenceLow    = 0.4
)

// MaxRating is the top of the verifier rating scale.
const MaxRating = 5

const (
	defaultRole           = "Unknown"
	defaultSeverity       = "N/A"
	defaultVerifierName   = "Unknown"
	defaultVerifierRole   = "Verifier"
	defaultBusinessImpact = "Positive impact demonstrated by the production fix."
)

// Subject is the employee whose skills were verified.
type Subject struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	EmployeeKey string `json:"employee_key"`
}

// BugContext describes the bug the verification was about.
type BugContext struct {
	BugKey         string `json:"bug_key"`
	Title          string `json:"title"`
	Severity       string `json:"severity"`
	BusinessImpact string `json:"business_impact"`
}

// Verification is one stakeholder's endorsement of a skill.
type Verification struct {
	VerifiedBy    string  `json:"verified_by"`
	VerifierRole  string  `json:"verifier_role"`
	Confidence    float64 `json:"confidence_level"`
	EvidenceQuote string  `json:"evidence_quote"`
}

// Skill is a verified competency.
type Skill struct {
	Name           string         `json:"skill_name"`
	Evidence       string         `json:"evidence"`
	Confidence     float64        `json:"confidence_level"`
	BusinessImpact string         `json:"business_impact"`
	Verifications  []Verification `json:"verifications"`
}

// Summary aggregates the verifications of a report.
type Summary struct {
	TotalVerifiers    int     `json:"total_verifiers"`
	CompletionRate    float64 `json:"completion_rate"`
	OverallConfidence float64 `json:"overall_confidence"`
	GeneratedAt       string  `json:"generated_at"`
}

// Report is the competency report of a completed session.
type Report struct {
	OntologyKey string     `json:"skill_ontologie_key"`
	SessionKey  string     `json:"session_key"`
	Subject     Subject    `json:"subject"`
	Bug         BugContext `json:"bug_context"`
	Skills      []Skill    `json:"verified_skills"`
	Summary     Summary    `json:"verification_summary"`
	CreatedAt   string     `json:"created_at"`
}

// MalformedError lists every problem found in an ontology payload.
type MalformedError struct {
	Problems []string
}

func (e *MalformedError) Error() string {
	return "report: malformed ontology: " + strings.Join(e.Problems, "; ")
}

type structuredData struct {
	Subject             Subject    `json:"subject"`
	BugContext          BugContext `json:"bug_context"`
	VerifiedSkills      []Skill    `json:"verified_skills"`
	VerificationSummary Summary    `json:"verification_summary"`
}

type envelope struct {
	OntologyKey    string          `json:"skill_ontologie_key"`
	SessionKey     string          `json:"session_key"`
	StructuredData json.RawMessage `json:"structured_data"`
	CreatedAt      string          `json:"created_at"`

	Subject *struct {
		Name        string `json:"name"`
		Role        string `json:"role"`
		EmployeeKey string `json:"employee_key"`
	} `json:"subject"`
	Session *struct {
		Bug *struct {
			BugKey   string `json:"bug_key"`
			Title    string `json:"title"`
			Severity string `json:"severity"`
		} `json:"bug"`
	} `json:"session"`
	BusinessImpactDescription string     `json:"business_impact_description"`
	VerifiedSkills            []rawSkill `json:"verified_skills"`
	ConfidenceScore           *float64   `json:"confidence_score"`
	GeneratedAt               string     `json:"generated_at"`
}

type rawSkill struct {
	SkillName           string   `json:"skill_name"`
	EvidenceDescription string   `json:"evidence_description"`
	ConfidenceLevel     string   `json:"confidence_level"`
	BusinessImpactScore *float64 `json:"business_impact_score"`
	SkillVerifications  []struct {
		Verifier *struct {
			Name string `json:"name"`
			Role string `json:"role"`
		} `json:"verifier"`
		VerificationRole    string   `json:"verification_role"`
		VerificationRating  *float64 `json:"verification_rating"`
		VerificationComment string   `json:"verification_comment"`
	} `json:"skill_verifications"`
}

// Parse decodes an ontology payload. It accepts payloads that already carry
// structured_data as well as the backend's raw format. Missing required
// fields and out-of-range values yield a *MalformedError.
func Parse(data []byte) (*Report, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedError{Problems: []string{fmt.Sprintf("invalid JSON: %v", err)}}
	}
	if hasValue(env.StructuredData) {
		return parseStructured(env)
	}
	return parseRaw(env)
}

// ConfidenceFromLabel maps a backend confidence label onto a 0..1 value.
func ConfidenceFromLabel(label string) (float64, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "high":
		return ConfidenceHigh, true
	case "medium":
		return ConfidenceMedium, true
	case "low":
		return ConfidenceLow, true
	}
	return 0, false
}

func parseStructured(env envelope) (*Report, error) {
	var sd structuredData
	if err := json.Unmarshal(env.StructuredData, &sd); err != nil {
		return nil, &MalformedError{Problems: []string{fmt.Sprintf("structured_data: %v", err)}}
	}
	var problems []string
	if strings.TrimSpace(sd.Subject.Name) == "" {
		problems = append(problems, "subject.name is required")
	}
	for i, skill := range sd.VerifiedSkills {
		if strings.TrimSpace(skill.Name) == "" {
			problems = append(problems, fmt.Sprintf("verified_skills[%d].skill_name is required", i))
		}
		if !unit(skill.Confidence) {
			problems = append(problems, fmt.Sprintf("verified_skills[%d].confidence_level %v out of range 0..1", i, skill.Confidence))
		}
		for j, v := range skill.Verifications {
			if !unit(v.Confidence) {
				problems = append(problems, fmt.Sprintf("verified_skills[%d].verifications[%d].confidence_level %v out of range 0..1", i, j, v.Confidence))
			}
		}
	}
	if len(problems) > 0 {
		return nil, &MalformedError{Problems: problems}
	}
	report := &Report{
		OntologyKey: env.OntologyKey,
		SessionKey:  env.SessionKey,
		Subject:     sd.Subject,
		Bug:         sd.BugContext,
		Skills:      sd.VerifiedSkills,
		Summary:     sd.VerificationSummary,
		CreatedAt:   env.CreatedAt,
	}
	if report.Skills == nil {
		report.Skills = []Skill{}
	}
	applyDefaults(report)
	return report, nil
}

func parseRaw(env envelope) (*Report, error) {
	var problems []string
	report := &Report{
		OntologyKey: env.OntologyKey,
		SessionKey:  env.SessionKey,
		CreatedAt:   env.CreatedAt,
		Skills:      make([]Skill, 0, len(env.VerifiedSkills)),
	}
	if env.Subject == nil || strings.TrimSpace(env.Subject.Name) == "" {
		problems = append(problems, "subject.name is required")
	} else {
		report.Subject = Subject{Name: env.Subject.Name, Role: env.Subject.Role, EmployeeKey: env.Subject.EmployeeKey}
	}
	if env.Session != nil && env.Session.Bug != nil {
		bug := env.Session.Bug
		report.Bug = BugContext{BugKey: bug.BugKey, Title: bug.Title, Severity: bug.Severity}
	}
	report.Bug.BusinessImpact = env.BusinessImpactDescription

	verifiers := 0
	for i, raw := range env.VerifiedSkills {
		skill := Skill{Name: raw.SkillName, Evidence: raw.EvidenceDescription}
		if strings.TrimSpace(raw.SkillName) == "" {
			problems = append(problems, fmt.Sprintf("verified_skills[%d].skill_name is required", i))
		}
		confidence, ok := ConfidenceFromLabel(raw.ConfidenceLevel)
		if !ok {
			problems = append(problems, fmt.Sprintf("verified_skills[%d].confidence_level %q is not high, medium or low", i, raw.ConfidenceLevel))
		}
		skill.Confidence = confidence
		impact := 0.0
		if raw.BusinessImpactScore != nil {
			impact = *raw.BusinessImpactScore
		}
		skill.BusinessImpact = fmt.Sprintf("Impact %s/%d", strconv.FormatFloat(impact, 'f', -1, 64), MaxRating)

		skill.Verifications = make([]Verification, 0, len(raw.SkillVerifications))
		for j, rv := range raw.SkillVerifications {
			v := Verification{
				VerifiedBy:    defaultVerifierName,
				VerifierRole:  rv.VerificationRole,
				EvidenceQuote: rv.VerificationComment,
			}
			if rv.Verifier != nil {
				if rv.Verifier.Name != "" {
					v.VerifiedBy = rv.Verifier.Name
				}
				if v.VerifierRole == "" {
					v.VerifierRole = rv.Verifier.Role
				}
			}
			if v.VerifierRole == "" {
				v.VerifierRole = defaultVerifierRole
			}
			rating := 0.0
			if rv.VerificationRating != nil {
				rating = *rv.VerificationRating
			}
			if rating < 0 || rating > MaxRating || math.IsNaN(rating) {
				problems = append(problems, fmt.Sprintf("verified_skills[%d].skill_verifications[%d].verification_rating %v out of range 0..%d", i, j, rating, MaxRating))
			}
			v.Confidence = rating / MaxRating
			skill.Verifications = append(skill.Verifications, v)
		}
		verifiers += len(raw.SkillVerifications)
		report.Skills = append(report.Skills, skill)
	}
	if len(problems) > 0 {
		return nil, &MalformedError{Problems: problems}
	}

	report.Summary = Summary{
		TotalVerifiers: verifiers,
		CompletionRate: 1,
		GeneratedAt:    firstNonEmpty(env.GeneratedAt, env.CreatedAt),
	}
	if env.ConfidenceScore != nil {
		report.Summary.OverallConfidence = *env.ConfidenceScore
	} else {
		report.Summary.OverallConfidence = meanConfidence(report.Skills)
	}
	applyDefaults(report)
	return report, nil
}

func applyDefaults(r *Report) {
	if strings.TrimSpace(r.Subject.Role) == "" {
		r.Subject.Role = defaultRole
	}
	if strings.TrimSpace(r.Bug.Severity) == "" {
		r.Bug.Severity = defaultSeverity
	}
	if strings.TrimSpace(r.Bug.BusinessImpact) == "" {
		r.Bug.BusinessImpact = defaultBusinessImpact
	}
}

func meanConfidence(skills []Skill) float64 {
	if len(skills) == 0 {
		return 0
	}
	var total float64
	for _, s := range skills {
		total += s.Confidence
	}
	return total / float64(len(skills))
}

func unit(v float64) bool {
	return v >= 0 && v <= 1 && !math.IsNaN(v)
}

func hasValue(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
