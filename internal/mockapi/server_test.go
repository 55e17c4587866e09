package mockapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/alia-console/internal/api"
	"github.com/kingrea/alia-console/internal/config"
	"github.com/kingrea/alia-console/internal/conversation"
	"github.com/kingrea/alia-console/internal/report"
)

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("key-%03d", n.Add(1)) }
}

func newTestBackend(t *testing.T) *api.Client {
	t.Helper()
	srv := NewServer(Settings{}, WithIDGenerator(sequentialIDs()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return api.New(ts.URL)
}

func pendingBug(t *testing.T, client *api.Client) api.Bug {
	t.Helper()
	bugs, err := client.ListBugs(context.Background())
	require.NoError(t, err)
	for _, b := range bugs.Bugs {
		if api.PendingVerification(b) {
			return b
		}
	}
	t.Fatalf("no bug pending verification")
	return api.Bug{}
}

func TestSeededData(t *testing.T) {
	client := newTestBackend(t)
	ctx := context.Background()

	employees, err := client.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, employees.Employees, 6)
	assert.Len(t, api.DefaultParticipants(employees.Employees), 5)

	e, err := client.GetEmployee(ctx, employees.Employees[0].EmployeeKey)
	require.NoError(t, err)
	assert.Equal(t, "João Pereira", e.Name)

	bugs, err := client.ListBugs(ctx)
	require.NoError(t, err)
	require.Len(t, bugs.Bugs, 3)
	pending := 0
	for _, b := range bugs.Bugs {
		if api.PendingVerification(b) {
			pending++
		}
	}
	assert.Equal(t, 2, pending)

	_, err = client.GetBug(ctx, "missing")
	assert.True(t, api.IsNotFound(err))
}

func TestScriptedConversationRunsToCompletion(t *testing.T) {
	client := newTestBackend(t)
	ctx := context.Background()
	bug := pendingBug(t, client)

	sess, err := client.CreateSession(ctx, api.CreateSessionRequest{BugKey: bug.BugKey})
	require.NoError(t, err)
	assert.Equal(t, api.SessionInitializing, sess.Status)
	require.Len(t, sess.Conversations, 5)
	for i, c := range sess.Conversations {
		assert.Equal(t, i, c.Position)
		assert.Equal(t, api.StatusNotStarted, c.Status)
	}

	_, err = client.GetSessionOntology(ctx, sess.SessionKey)
	assert.True(t, api.IsNotFound(err), "no report before completion")

	for _, c := range sess.Conversations {
		key := c.ConversationKey
		for turn := 0; ; turn++ {
			next, err := client.NextMessage(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, api.SenderAlia, next.Sender)
			if next.IsFinalMessage {
				break
			}
			_, err = client.NextMessage(ctx, key)
			var statusErr *api.StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, http.StatusConflict, statusErr.StatusCode)

			echo, err := client.SendMessage(ctx, key, api.SendMessageRequest{
				Content: strings.Repeat("detailed answer ", 6), Sender: api.SenderEmployee, MessageType: api.MessageText,
			})
			require.NoError(t, err)
			assert.NotEmpty(t, echo.MessageKey)
			require.Less(t, turn, 10)
		}
		_, err = client.NextMessage(ctx, key)
		assert.ErrorIs(t, err, api.ErrNoMoreMessages)

		history, err := client.GetConversationMessages(ctx, key)
		require.NoError(t, err)
		assert.Len(t, history.Messages, 5)
	}

	done, err := client.GetSession(ctx, sess.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, api.SessionCompleted, done.Status)
	assert.NotEmpty(t, done.CompletedAt)

	raw, err := client.GetSessionOntology(ctx, sess.SessionKey)
	require.NoError(t, err)
	rep, err := report.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "João Pereira", rep.Subject.Name)
	assert.Equal(t, bug.Title, rep.Bug.Title)
	assert.Len(t, rep.Skills, 5)
	assert.Equal(t, 5, rep.Summary.TotalVerifiers)
	assert.Equal(t, report.ConfidenceHigh, rep.Skills[0].Confidence)

	byKey, err := client.GetSkillOntology(ctx, rep.OntologyKey)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(byKey))

	after, err := client.GetBug(ctx, bug.BugKey)
	require.NoError(t, err)
	assert.False(t, api.PendingVerification(*after))
}

func TestStatusUpdates(t *testing.T) {
	client := newTestBackend(t)
	ctx := context.Background()
	sess, err := client.CreateSession(ctx, api.CreateSessionRequest{BugKey: pendingBug(t, client).BugKey})
	require.NoError(t, err)
	key := sess.Conversations[0].ConversationKey

	ms := 2000
	ack, err := client.UpdateConversationStatus(ctx, key, api.UpdateStatusRequest{Status: api.StatusTyping, DurationMS: &ms})
	require.NoError(t, err)
	assert.Equal(t, api.StatusTyping, ack.Status)

	_, err = client.UpdateConversationStatus(ctx, key, api.UpdateStatusRequest{Status: "dancing"})
	var statusErr *api.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)

	ack, err = client.UpdateConversationStatus(ctx, key, api.UpdateStatusRequest{Status: api.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, ack.Status)

	ack, err = client.UpdateConversationStatus(ctx, key, api.UpdateStatusRequest{Status: api.StatusActive})
	require.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, ack.Status, "completed is terminal")

	_, err = client.SendMessage(ctx, key, api.SendMessageRequest{Content: "late", Sender: api.SenderEmployee})
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusConflict, statusErr.StatusCode)

	_, err = client.UpdateConversationStatus(ctx, "missing", api.UpdateStatusRequest{Status: api.StatusActive})
	assert.True(t, api.IsNotFound(err))
}

func TestCreateBugThenSession(t *testing.T) {
	client := newTestBackend(t)
	ctx := context.Background()

	_, err := client.CreateBug(ctx, api.CreateBugRequest{BugID: "BUG-5001"})
	var statusErr *api.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)

	date := "2025-02-01"
	bug, err := client.CreateBug(ctx, api.CreateBugRequest{BugID: "BUG-5001", Title: "Refunds double-charged", Severity: "P0", Status: "completed", CompletedDate: &date})
	require.NoError(t, err)
	assert.Equal(t, "P0", bug.Severity)
	assert.Equal(t, date, bug.CompletedDate)
	assert.True(t, api.PendingVerification(*bug))

	sess, err := client.CreateSession(ctx, api.CreateSessionRequest{BugKey: bug.BugKey})
	require.NoError(t, err)
	assert.Equal(t, bug.BugKey, sess.BugKey)

	sessions, err := client.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions.Sessions, 1)

	_, err = client.CreateSession(ctx, api.CreateSessionRequest{BugKey: "missing"})
	assert.True(t, api.IsNotFound(err))
}

func TestOrchestratorAgainstMockBackend(t *testing.T) {
	client := newTestBackend(t)
	ctx := context.Background()
	sess, err := client.CreateSession(ctx, api.CreateSessionRequest{BugKey: pendingBug(t, client).BugKey})
	require.NoError(t, err)

	var changed atomic.Int32
	orch := conversation.New(client,
		conversation.WithDelays(conversation.Delays{Typing: time.Millisecond, AutoStart: time.Millisecond, PostSend: time.Millisecond}),
		conversation.WithSessionChanged(func() { changed.Add(1) }),
	)
	t.Cleanup(orch.Close)
	orch.Sync(ctx, sess)

	first := sess.Conversations[0].ConversationKey
	waitFor := func(status api.ConversationStatus) {
		t.Helper()
		require.Eventually(t, func() bool {
			st, _ := orch.State(first)
			return st.Status() == status && !st.Loading
		}, 2*time.Second, 2*time.Millisecond)
	}

	waitFor(api.StatusWaitingResponse)
	require.NoError(t, orch.SendMessage(ctx, first, "I bisected the deploys and found the lock ordering change."))
	require.Eventually(t, func() bool {
		st, _ := orch.State(first)
		return len(st.Messages) == 3 && st.Status() == api.StatusWaitingResponse && !st.Loading
	}, 2*time.Second, 2*time.Millisecond)
	require.NoError(t, orch.SendMessage(ctx, first, "A stress test reproduced it; the fix acquires locks in id order."))
	waitFor(api.StatusCompleted)

	st, _ := orch.State(first)
	assert.Len(t, st.Messages, 5)
	assert.Equal(t, int32(1), changed.Load())

	second, _ := orch.State(sess.Conversations[1].ConversationKey)
	assert.Equal(t, api.StatusNotStarted, second.Status())
	assert.Empty(t, second.Messages)

	summary := report.Summarize(sess, orch.Snapshot())
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 20, summary.Percent())
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.File.Mock.Host = "0.0.0.0"
	cfg.File.Mock.Port = 9010
	settings := SettingsFromConfig(cfg)
	assert.Equal(t, "0.0.0.0:9010", settings.Address())
	assert.Equal(t, "http://0.0.0.0:9010", settings.URL())
	assert.Equal(t, DefaultMaxBodyBytes, settings.MaxBodyBytes)
}

func TestServerStartAndShutdown(t *testing.T) {
	srv := NewServer(Settings{Host: "127.0.0.1", Port: 0})
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	assert.Error(t, srv.Start(context.Background()))

	resp, err := http.Get(srv.BaseURL() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Empty(t, srv.Addr())
}
