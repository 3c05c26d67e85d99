package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/levigross/grequests"
	"github.com/rs/zerolog"
)

const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Entry is one structured record shipped to the remote sink.
type Entry struct {
	Level   string
	Message string
	// Function holds invocation metadata (name, activation id, remaining time).
	Function map[string]any
	// Event is the raw inbound request body.
	Event json.RawMessage
	Extra map[string]any
}

// Sink posts entries to https://<host>/ with a bearer token. A Sink built
// without host or token drops everything. All delivery failures are
// swallowed; Log never returns an error.
type Sink struct {
	url     string
	token   string
	enabled bool
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

type Option func(*Sink)

// WithBaseURL replaces the https://<host>/ endpoint.
func WithBaseURL(u string) Option {
	return func(s *Sink) { s.url = u }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

func New(host, token string, opts ...Option) *Sink {
	s := &Sink{
		token:   token,
		enabled: strings.TrimSpace(host) != "" && strings.TrimSpace(token) != "",
		timeout: 5 * time.Second,
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	if s.enabled {
		s.url = "https://" + strings.TrimRight(host, "/") + "/"
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sink) Enabled() bool { return s != nil && s.enabled }

func (s *Sink) Log(ctx context.Context, e Entry) {
	if !s.Enabled() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug().Str("panic", fmt.Sprint(r)).Msg("log sink panic swallowed")
		}
	}()
	resp, err := grequests.Post(s.url, &grequests.RequestOptions{
		JSON:           s.record(e),
		Headers:        map[string]string{"Authorization": "Bearer " + s.token},
		RequestTimeout: s.timeout,
		Context:        ctx,
	})
	if err != nil {
		s.logger.Debug().Err(err).Msg("log sink post failed")
		return
	}
	defer resp.Close()
	if !resp.Ok {
		s.logger.Debug().Int("status", resp.StatusCode).Msg("log sink rejected record")
	}
}

func (s *Sink) record(e Entry) map[string]any {
	rec := make(map[string]any, len(e.Extra)+5)
	for k, v := range e.Extra {
		rec[k] = v
	}
	rec["dt"] = s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	rec["level_string"] = e.Level
	rec["message_string"] = e.Message
	if e.Function != nil {
		rec["do_function_context"] = e.Function
	} else {
		rec["do_function_context"] = map[string]any{}
	}
	if json.Valid(e.Event) {
		rec["do_function_event"] = e.Event
	} else {
		rec["do_function_event"] = map[string]any{}
	}
	return rec
}
