package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/alia-console/internal/api"
)

type fakeBackend struct {
	session     *api.Session
	sessionErr  error
	ontology    json.RawMessage
	ontologyErr error
	ontologyHit int
}

func (f *fakeBackend) GetSession(context.Context, string) (*api.Session, error) {
	return f.session, f.sessionErr
}

func (f *fakeBackend) GetSessionOntology(context.Context, string) (json.RawMessage, error) {
	f.ontologyHit++
	return f.ontology, f.ontologyErr
}

type recordingLogger struct{ lines []string }

func (r *recordingLogger) Printf(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func TestFetchActiveSessionSkipsReport(t *testing.T) {
	backend := &fakeBackend{session: &api.Session{SessionKey: "s1", Status: api.SessionActive}}
	res := NewLoader(backend, "s1").Fetch(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, "s1", res.Session.SessionKey)
	assert.Nil(t, res.Report)
	assert.Zero(t, backend.ontologyHit)
}

func TestFetchCompletedSessionLoadsReport(t *testing.T) {
	backend := &fakeBackend{
		session:  &api.Session{SessionKey: "s1", Status: api.SessionCompleted},
		ontology: json.RawMessage(`{"subject": {"name": "João"}, "verified_skills": [{"skill_name": "Go", "confidence_level": "medium"}]}`),
	}
	res := NewLoader(backend, "s1").Fetch(context.Background())
	require.NoError(t, res.Err)
	require.NotNil(t, res.Report)
	assert.Equal(t, "João", res.Report.Subject.Name)
}

func TestFetchSwallowsReportFailures(t *testing.T) {
	tests := []struct {
		name     string
		ontology json.RawMessage
		err      error
		logged   string
	}{
		{"not ready", nil, &api.StatusError{Method: "GET", Path: "/ontology", StatusCode: 404}, "not ready yet"},
		{"transport", nil, errors.New("connection reset"), "connection reset"},
		{"malformed", json.RawMessage(`{"verified_skills": []}`), nil, "subject.name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{
				session:     &api.Session{SessionKey: "s1", Status: api.SessionCompleted},
				ontology:    tt.ontology,
				ontologyErr: tt.err,
			}
			logger := &recordingLogger{}
			res := NewLoader(backend, "s1", WithLogger(logger)).Fetch(context.Background())
			require.NoError(t, res.Err)
			assert.NotNil(t, res.Session)
			assert.Nil(t, res.Report)
			require.Len(t, logger.lines, 1)
			assert.Contains(t, logger.lines[0], tt.logged)
		})
	}
}

func TestFetchSessionErrorIsPageLevel(t *testing.T) {
	backend := &fakeBackend{sessionErr: &api.StatusError{Method: "GET", Path: "/api/sessions/s1", StatusCode: 404}}
	res := NewLoader(backend, "s1").Fetch(context.Background())
	require.Error(t, res.Err)
	assert.True(t, api.IsNotFound(res.Err))
	assert.Nil(t, res.Session)
}

func TestFetchWithoutKey(t *testing.T) {
	res := NewLoader(&fakeBackend{}, "  ").Fetch(context.Background())
	assert.ErrorIs(t, res.Err, ErrNoSessionKey)
}
