package report

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawOntology = `{
  "skill_ontologie_key": "ont-1",
  "session_key": "sess-1",
  "subject": {"name": "João Pereira", "role": "Backend Developer", "employee_key": "emp-1"},
  "session": {"bug": {"bug_key": "bug-1", "title": "Checkout deadlock", "severity": "P1"}},
  "business_impact_description": "Checkout restored for all users.",
  "verified_skills": [
    {
      "skill_name": "Concurrency debugging",
      "evidence_description": "Found the lock ordering issue",
      "confidence_level": "HIGH",
      "business_impact_score": 4,
      "skill_verifications": [
        {"verifier": {"name": "Maria Silva", "role": "QA Lead"}, "verification_rating": 5, "verification_comment": "Solid fix"},
        {"verifier": {"name": "Ana Costa"}, "verification_role": "Tech Lead", "verification_rating": 3.5}
      ]
    },
    {"skill_name": "Communication", "confidence_level": "low"}
  ],
  "generated_at": "2025-01-02T10:00:00Z",
  "created_at": "2025-01-02T09:59:00Z"
}`

func TestParseRawFormat(t *testing.T) {
	r, err := Parse([]byte(rawOntology))
	require.NoError(t, err)

	assert.Equal(t, "ont-1", r.OntologyKey)
	assert.Equal(t, "João Pereira", r.Subject.Name)
	assert.Equal(t, "bug-1", r.Bug.BugKey)
	assert.Equal(t, "P1", r.Bug.Severity)
	assert.Equal(t, "Checkout restored for all users.", r.Bug.BusinessImpact)

	require.Len(t, r.Skills, 2)
	first := r.Skills[0]
	assert.Equal(t, ConfidenceHigh, first.Confidence)
	assert.Equal(t, "Impact 4/5", first.BusinessImpact)
	require.Len(t, first.Verifications, 2)
	assert.Equal(t, "Maria Silva", first.Verifications[0].VerifiedBy)
	assert.Equal(t, "QA Lead", first.Verifications[0].VerifierRole)
	assert.InDelta(t, 1.0, first.Verifications[0].Confidence, 1e-9)
	assert.Equal(t, "Tech Lead", first.Verifications[1].VerifierRole)
	assert.InDelta(t, 0.7, first.Verifications[1].Confidence, 1e-9)

	second := r.Skills[1]
	assert.Equal(t, ConfidenceLow, second.Confidence)
	assert.Equal(t, "Impact 0/5", second.BusinessImpact)
	assert.Empty(t, second.Verifications)

	assert.Equal(t, 2, r.Summary.TotalVerifiers)
	assert.Equal(t, 1.0, r.Summary.CompletionRate)
	assert.InDelta(t, (ConfidenceHigh+ConfidenceLow)/2, r.Summary.OverallConfidence, 1e-9)
	assert.Equal(t, "2025-01-02T10:00:00Z", r.Summary.GeneratedAt)
}

func TestParseRawUsesReportedConfidenceScore(t *testing.T) {
	r, err := Parse([]byte(`{"subject": {"name": "X"}, "verified_skills": [], "confidence_score": 0.85, "created_at": "c"}`))
	require.NoError(t, err)
	assert.Equal(t, 0.85, r.Summary.OverallConfidence)
	assert.Equal(t, "c", r.Summary.GeneratedAt)
	assert.Equal(t, defaultRole, r.Subject.Role)
	assert.Equal(t, defaultSeverity, r.Bug.Severity)
	assert.Equal(t, defaultBusinessImpact, r.Bug.BusinessImpact)
	assert.NotNil(t, r.Skills)
}

func TestParseStructuredFormat(t *testing.T) {
	payload := `{
	  "skill_ontologie_key": "ont-2",
	  "structured_data": {
	    "subject": {"name": "Carla", "role": "Tech Lead", "employee_key": "e2"},
	    "bug_context": {"bug_key": "b2", "title": "Crash", "severity": "P0", "business_impact": "Stopped crashes"},
	    "verified_skills": [{"skill_name": "Triage", "evidence": "fast", "confidence_level": 0.8, "business_impact": "Impact 5/5",
	      "verifications": [{"verified_by": "Rui", "verifier_role": "PM", "confidence_level": 0.6, "evidence_quote": "ok"}]}],
	    "verification_summary": {"total_verifiers": 1, "completion_rate": 1, "overall_confidence": 0.8, "generated_at": "g"}
	  }
	}`
	r, err := Parse([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "Carla", r.Subject.Name)
	assert.Equal(t, "Stopped crashes", r.Bug.BusinessImpact)
	require.Len(t, r.Skills, 1)
	assert.Equal(t, 0.8, r.Skills[0].Confidence)
	assert.Equal(t, "Rui", r.Skills[0].Verifications[0].VerifiedBy)
	assert.Equal(t, 1, r.Summary.TotalVerifiers)
}

func TestParseRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"not json", `{`, "invalid JSON"},
		{"missing subject", `{"verified_skills": []}`, "subject.name is required"},
		{"unnamed skill", `{"subject": {"name": "X"}, "verified_skills": [{"confidence_level": "high"}]}`, "verified_skills[0].skill_name is required"},
		{"unknown label", `{"subject": {"name": "X"}, "verified_skills": [{"skill_name": "A", "confidence_level": "certain"}]}`, "is not high, medium or low"},
		{"rating out of range", `{"subject": {"name": "X"}, "verified_skills": [{"skill_name": "A", "confidence_level": "low", "skill_verifications": [{"verification_rating": 7}]}]}`, "out of range 0..5"},
		{"structured confidence out of range", `{"structured_data": {"subject": {"name": "X"}, "verified_skills": [{"skill_name": "A", "confidence_level": 1.5}]}}`, "out of range 0..1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.payload))
			var malformed *MalformedError
			require.True(t, errors.As(err, &malformed), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseCollectsEveryProblem(t *testing.T) {
	_, err := Parse([]byte(`{"verified_skills": [{"confidence_level": "nope"}]}`))
	var malformed *MalformedError
	require.ErrorAs(t, err, &malformed)
	assert.Len(t, malformed.Problems, 3)
}

func TestConfidenceFromLabel(t *testing.T) {
	for label, want := range map[string]float64{"high": ConfidenceHigh, " Medium ": ConfidenceMedium, "LOW": ConfidenceLow} {
		got, ok := ConfidenceFromLabel(label)
		assert.True(t, ok, label)
		assert.Equal(t, want, got, label)
	}
	_, ok := ConfidenceFromLabel("")
	assert.False(t, ok)
}
