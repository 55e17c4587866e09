package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/alia-console/internal/api"
	"github.com/kingrea/alia-console/internal/conversation"
	"github.com/kingrea/alia-console/internal/mockapi"
)

func startMock(t *testing.T) string {
	t.Helper()
	ts := httptest.NewServer(mockapi.NewServer(mockapi.Settings{}).Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func run(t *testing.T, baseURL string, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	t.Setenv("ALIA_HOME", t.TempDir())
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	full := append([]string{"--config", filepath.Join(t.TempDir(), "config.yaml"), "--api", baseURL}, args...)
	root.SetArgs(full)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "http://127.0.0.1:1", "version")
	require.NoError(t, err)
	assert.Equal(t, "alia "+version+"\n", out)
}

func TestEmployeesMarksDefaultParticipants(t *testing.T) {
	out, err := run(t, startMock(t), "employees")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[1], "✓ MS  Maria Silva"), lines[1])
	assert.True(t, strings.HasPrefix(lines[5], "  PA  Pedro Alves"), lines[5])
}

func TestBugsListShowsPendingOnly(t *testing.T) {
	url := startMock(t)
	out, err := run(t, url, "bugs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Payment failures on concurrent transactions")
	assert.NotContains(t, out, "CSV export drops accented characters")

	out, err = run(t, url, "bugs", "list", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "CSV export drops accented characters")
}

func TestBugsCreateAndStartSession(t *testing.T) {
	url := startMock(t)
	out, err := run(t, url, "bugs", "create", "--title", "Refund webhook retried forever", "--severity", "p2", "--start")
	require.NoError(t, err)
	assert.Contains(t, out, "bug ")
	assert.Contains(t, out, "started with 5 conversations")

	out, err = run(t, url, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "0/5 conversations done")

	_, err = run(t, url, "bugs", "create")
	assert.ErrorContains(t, err, "--title is required")
}

func TestReportNotReady(t *testing.T) {
	url := startMock(t)
	client := api.New(url)
	bugs, err := client.ListBugs(context.Background())
	require.NoError(t, err)
	sess, err := client.CreateSession(context.Background(), api.CreateSessionRequest{BugKey: bugs.Bugs[0].BugKey})
	require.NoError(t, err)

	_, err = run(t, url, "report", sess.SessionKey)
	assert.ErrorContains(t, err, "report not ready yet")

	_, err = run(t, url, "report")
	assert.Error(t, err)
}

func TestReportForCompletedSession(t *testing.T) {
	url := startMock(t)
	client := api.New(url)
	ctx := context.Background()
	bugs, err := client.ListBugs(ctx)
	require.NoError(t, err)
	sess, err := client.CreateSession(ctx, api.CreateSessionRequest{BugKey: bugs.Bugs[0].BugKey})
	require.NoError(t, err)

	orch := conversation.New(client, conversation.WithDelays(conversation.Delays{
		Typing: time.Millisecond, AutoStart: time.Millisecond, PostSend: time.Millisecond,
	}))
	t.Cleanup(orch.Close)
	orch.Sync(ctx, sess)
	for _, c := range sess.Conversations {
		key := c.ConversationKey
		require.NoError(t, orch.Start(key))
		for {
			require.Eventually(t, func() bool {
				st, _ := orch.State(key)
				return !st.Loading && (st.AcceptsReply() || st.Status() == api.StatusCompleted)
			}, 2*time.Second, 2*time.Millisecond)
			st, _ := orch.State(key)
			if st.Status() == api.StatusCompleted {
				break
			}
			require.NoError(t, orch.SendMessage(ctx, key, "I checked the dashboards after the deploy and the error rate dropped to zero."))
		}
	}

	out, err := run(t, url, "report", sess.SessionKey)
	require.NoError(t, err)
	assert.Contains(t, out, "Skill report · João Pereira (Backend Developer)")
	assert.Contains(t, out, "Root cause analysis")

	out, err = run(t, url, "sessions", "show", sess.SessionKey)
	require.NoError(t, err)
	assert.Contains(t, out, "100% complete")

	out, err = run(t, url, "report", sess.SessionKey, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, "\"skill_ontologie_key\"")
}
