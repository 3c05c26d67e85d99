package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"inreach-relay/internal/inbound"
	"inreach-relay/internal/ipc"
	"inreach-relay/internal/logsink"
)

// Outcome classifies how one invocation ended. Every outcome is answered
// with HTTP 200 so the Outbound API never retries or backs off.
type Outcome string

const (
	OutcomeForwarded       Outcome = "forwarded"
	OutcomeUnauthorized    Outcome = "unauthorized"
	OutcomeShapeMismatch   Outcome = "shape_mismatch"
	OutcomeFilteredOut     Outcome = "filtered_out"
	OutcomeForwardRejected Outcome = "forward_rejected"
	OutcomeForwardFailed   Outcome = "forward_failed"
)

// Filter reasons reported with OutcomeFilteredOut.
const (
	ReasonEmptyBatch = "empty_batch"
	ReasonDevice     = "device"
	ReasonCode       = "message_code"
	ReasonNoLocation = "no_location"
)

type Sender interface {
	Send(ctx context.Context, msgs ...inbound.Message) error
}

type Reporter interface {
	Log(ctx context.Context, e logsink.Entry)
}

type Settings struct {
	AuthToken     string
	SenderIMEI    string
	SenderAddress string
	ReceiverIMEI  string
}

// ExecutionContext describes the hosting invocation.
type ExecutionContext struct {
	FunctionName    string
	FunctionVersion string
	ActivationID    string
	RequestID       string
	Deadline        time.Time
}

func (e ExecutionContext) RemainingTime() time.Duration {
	if e.Deadline.IsZero() {
		return 0
	}
	if d := time.Until(e.Deadline); d > 0 {
		return d
	}
	return 0
}

func (e ExecutionContext) fields() map[string]any {
	return map[string]any{
		"function_name":     e.FunctionName,
		"function_version":  e.FunctionVersion,
		"activation_id":     e.ActivationID,
		"request_id":        e.RequestID,
		"deadline":          e.Deadline.UnixMilli(),
		"remaining_time_ms": e.RemainingTime().Milliseconds(),
	}
}

type Invocation struct {
	Method  string
	Headers http.Header
	Body    []byte
	Exec    ExecutionContext
}

// header looks name up canonically, then case-insensitively for hosts that
// pass lower-cased header maps.
func (inv Invocation) header(name string) string {
	if v := inv.Headers.Get(name); v != "" {
		return v
	}
	for k, vs := range inv.Headers {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

type Result struct {
	StatusCode int `json:"statusCode"`
}

var okResult = Result{StatusCode: http.StatusOK}

type Handler struct {
	settings Settings
	sender   Sender
	sink     Reporter
	metrics  *Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

type Option func(*Handler)

func WithSink(r Reporter) Option {
	return func(h *Handler) { h.sink = r }
}

func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func NewHandler(s Settings, sender Sender, opts ...Option) (*Handler, error) {
	if sender == nil {
		return nil, errors.New("relay: nil sender")
	}
	if s.AuthToken == "" || s.SenderIMEI == "" || s.ReceiverIMEI == "" || s.SenderAddress == "" {
		return nil, errors.New("relay: incomplete settings")
	}
	h := &Handler{
		settings: s,
		sender:   sender,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Handle runs one invocation. It always returns a 200 result; failures are
// only logged.
func (h *Handler) Handle(ctx context.Context, inv Invocation) Result {
	outcome, reason := h.process(ctx, inv)
	h.metrics.observe(outcome, reason)
	h.logger.Debug().
		Str("activation_id", inv.Exec.ActivationID).
		Str("outcome", string(outcome)).
		Str("reason", reason).
		Msg("invocation done")
	return okResult
}

func (h *Handler) process(ctx context.Context, inv Invocation) (Outcome, string) {
	if !Authorized(inv.header("Authorization"), h.settings.AuthToken) {
		return OutcomeUnauthorized, ""
	}
	if inv.Method != http.MethodPost {
		return OutcomeShapeMismatch, "method"
	}
	n, err := ipc.Decode(inv.Body)
	if err != nil {
		return OutcomeShapeMismatch, "body"
	}
	ev, found := ipc.Latest(n.Events)
	if !found {
		return OutcomeFilteredOut, ReasonEmptyBatch
	}
	if reason := h.filter(ev); reason != "" {
		return OutcomeFilteredOut, reason
	}
	return h.forward(ctx, inv, ev)
}

func (h *Handler) filter(ev ipc.Event) string {
	switch {
	case ev.IMEI != h.settings.SenderIMEI:
		return ReasonDevice
	case !ipc.IsTracking(ev.MessageCode):
		return ReasonCode
	case ev.Point.IsZero():
		return ReasonNoLocation
	}
	return ""
}

func (h *Handler) forward(ctx context.Context, inv Invocation, ev ipc.Event) (Outcome, string) {
	msg := BuildMessage(h.settings, ev, h.now())
	start := time.Now()
	err := h.sender.Send(ctx, msg)
	h.metrics.forwardDone(time.Since(start))
	if err == nil {
		h.logger.Info().
			Str("imei", ev.IMEI).
			Int("message_code", ev.MessageCode).
			Str("text", msg.Message).
			Msg("forwarded")
		return OutcomeForwarded, ""
	}

	var se *inbound.StatusError
	if errors.As(err, &se) {
		h.logger.Error().Int("status", se.StatusCode).Str("body", se.Body).Msg("forward rejected")
		h.report(ctx, inv, "forward rejected", map[string]any{"status": se.StatusCode, "body": se.Body})
		return OutcomeForwardRejected, ""
	}
	h.logger.Error().Err(err).Msg("forward failed")
	h.report(ctx, inv, "forward failed", map[string]any{"error": err.Error()})
	return OutcomeForwardFailed, ""
}

func (h *Handler) report(ctx context.Context, inv Invocation, msg string, extra map[string]any) {
	if h.sink == nil {
		return
	}
	defer func() { _ = recover() }()
	h.sink.Log(ctx, logsink.Entry{
		Level:    logsink.LevelError,
		Message:  msg,
		Function: inv.Exec.fields(),
		Event:    inv.Body,
		Extra:    extra,
	})
}

// Authorized checks an "authorization: <scheme> <base64>" header. The token
// must decode to exactly "<token>:", a Basic credential with an empty
// password.
func Authorized(header, token string) bool {
	parts := strings.Split(header, " ")
	if len(parts) < 2 || parts[1] == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	return string(decoded) == token+":"
}

// BuildMessage converts a device event into the Inbound message sent to the
// receiver. The timestamp is the forwarding time, not the event time.
func BuildMessage(s Settings, ev ipc.Event, now time.Time) inbound.Message {
	p := ev.Point
	return inbound.Message{
		Recipients: []string{s.ReceiverIMEI},
		Sender:     s.SenderAddress,
		Timestamp:  inbound.NewTimestamp(now),
		Message:    fmt.Sprintf("%s: lat %s lon %s", ipc.Label(ev.MessageCode), formatCoord(p.Latitude), formatCoord(p.Longitude)),
		ReferencePoint: inbound.ReferencePoint{
			LocationType: inbound.LocationTypeGPS,
			Altitude:     p.Altitude,
			Speed:        p.Speed,
			Course:       p.Course,
			Coordinate: inbound.Coordinate{
				Latitude:  p.Latitude,
				Longitude: p.Longitude,
			},
		},
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
