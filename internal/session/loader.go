// Package session loads a verification session and, once it has completed,
// its competency report.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/alia-console/internal/api"
	"github.com/kingrea/alia-console/internal/report"
)

// ErrNoSessionKey is returned when the loader has nothing to fetch.
var ErrNoSessionKey = errors.New("session: no session key")

// Backend is the part of the API client the loader needs.
type Backend interface {
	GetSession(ctx context.Context, sessionKey string) (*api.Session, error)
	GetSessionOntology(ctx context.Context, sessionKey string) (json.RawMessage, error)
}

// Logger is the subset of logging used by the loader.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Result is what one fetch produced. Err is the page-level error; a report
// that could not be loaded leaves Report nil without setting Err.
type Result struct {
	Session *api.Session
	Report  *report.Report
	Err     error
}

// Loader fetches one session.
type Loader struct {
	backend    Backend
	logger     Logger
	sessionKey string
}

// Option customizes a Loader.
type Option func(*Loader)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// NewLoader builds a loader for sessionKey.
func NewLoader(backend Backend, sessionKey string, opts ...Option) *Loader {
	ld := &Loader{backend: backend, logger: nopLogger{}, sessionKey: strings.TrimSpace(sessionKey)}
	for _, opt := range opts {
		if opt != nil {
			opt(ld)
		}
	}
	return ld
}

// SessionKey returns the key the loader fetches.
func (ld *Loader) SessionKey() string {
	return ld.sessionKey
}

// Fetch loads the session and, if it is completed, its report. Report
// failures (not generated yet, malformed) are logged and swallowed.
func (ld *Loader) Fetch(ctx context.Context) Result {
	if ld.sessionKey == "" {
		return Result{Err: ErrNoSessionKey}
	}
	sess, err := ld.backend.GetSession(ctx, ld.sessionKey)
	if err != nil {
		return Result{Err: fmt.Errorf("session: load %s: %w", ld.sessionKey, err)}
	}
	res := Result{Session: sess}
	if sess.Status != api.SessionCompleted {
		return res
	}

	raw, err := ld.backend.GetSessionOntology(ctx, ld.sessionKey)
	if err != nil {
		if api.IsNotFound(err) {
			ld.logger.Printf("session %s: report not ready yet", ld.sessionKey)
		} else {
			ld.logger.Printf("session %s: load report: %v", ld.sessionKey, err)
		}
		return res
	}
	rep, err := report.Parse(raw)
	if err != nil {
		ld.logger.Printf("session %s: %v", ld.sessionKey, err)
		return res
	}
	res.Report = rep
	return res
}
