package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inreach-relay/internal/inbound"
	"inreach-relay/internal/ipc"
	"inreach-relay/internal/logsink"
)

const (
	testToken    = "hook-token"
	testSender   = "300434030000000"
	testReceiver = "300434030000001"
	testAddress  = "relay@example.com"
)

var testSettings = Settings{
	AuthToken:     testToken,
	SenderIMEI:    testSender,
	SenderAddress: testAddress,
	ReceiverIMEI:  testReceiver,
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []inbound.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msgs ...inbound.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msgs...)
	return r.err
}

func (r *recordingSender) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []logsink.Entry
}

func (r *recordingSink) Log(_ context.Context, e logsink.Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

type panickingSink struct{}

func (panickingSink) Log(context.Context, logsink.Entry) { panic("sink down") }

var fixedNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, sender Sender, opts ...Option) *Handler {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	h, err := NewHandler(testSettings, sender, opts...)
	require.NoError(t, err)
	return h
}

func authHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(token+":")))
	return h
}

func eventJSON(imei string, code int, ts int64, lat, lon float64) string {
	return fmt.Sprintf(`{"imei":%q,"messageCode":%d,"timeStamp":%d,"point":{"latitude":%v,"longitude":%v,"altitude":15,"gpsFix":2,"course":45,"speed":2.5},"status":{}}`,
		imei, code, ts, lat, lon)
}

func batch(events ...string) []byte {
	body := `{"Version":"2.0","Events":[`
	for i, e := range events {
		if i > 0 {
			body += ","
		}
		body += e
	}
	return []byte(body + `]}`)
}

func post(body []byte) Invocation {
	return Invocation{Method: http.MethodPost, Headers: authHeader(testToken), Body: body}
}

func TestForwardsPositionReport(t *testing.T) {
	sender := &recordingSender{}
	h := newTestHandler(t, sender)

	res := h.Handle(context.Background(), post(batch(eventJSON(testSender, ipc.CodePositionReport, 1000, 10, 20))))
	assert.Equal(t, Result{StatusCode: 200}, res)

	require.Equal(t, 1, sender.Count())
	m := sender.msgs[0]
	assert.Equal(t, "Location Update: lat 10 lon 20", m.Message)
	assert.Equal(t, []string{testReceiver}, m.Recipients)
	assert.Equal(t, testAddress, m.Sender)
	assert.Equal(t, inbound.NewTimestamp(fixedNow), m.Timestamp)
	assert.Equal(t, inbound.ReferencePoint{
		LocationType: "GPSLocation",
		Altitude:     15,
		Speed:        2.5,
		Course:       45,
		Coordinate:   inbound.Coordinate{Latitude: 10, Longitude: 20},
	}, m.ReferencePoint)
}

func TestTrackingLabels(t *testing.T) {
	cases := map[int]string{
		ipc.CodeStartTrack: "Tracking Started: lat 47.6062 lon -122.3321",
		ipc.CodeStopTrack:  "Tracking Stopped: lat 47.6062 lon -122.3321",
	}
	for code, want := range cases {
		sender := &recordingSender{}
		h := newTestHandler(t, sender)
		h.Handle(context.Background(), post(batch(eventJSON(testSender, code, 1, 47.6062, -122.3321))))
		require.Equal(t, 1, sender.Count())
		assert.Equal(t, want, sender.msgs[0].Message)
	}
}

func TestAuthorization(t *testing.T) {
	body := batch(eventJSON(testSender, 0, 1, 10, 20))
	cases := map[string]http.Header{
		"missing":       {},
		"no scheme":     {"Authorization": {base64.StdEncoding.EncodeToString([]byte(testToken + ":"))}},
		"not base64":    {"Authorization": {"Basic !!!"}},
		"no colon":      {"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(testToken))}},
		"wrong token":   {"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte("other:"))}},
		"with password": {"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(testToken + ":x"))}},
		"empty token":   {"Authorization": {"Basic "}},
	}
	for name, hdr := range cases {
		sender := &recordingSender{}
		sink := &recordingSink{}
		h := newTestHandler(t, sender, WithSink(sink))
		inv := Invocation{Method: http.MethodPost, Headers: hdr, Body: body}

		outcome, _ := h.process(context.Background(), inv)
		assert.Equal(t, OutcomeUnauthorized, outcome, name)
		assert.Equal(t, Result{StatusCode: 200}, h.Handle(context.Background(), inv), name)
		assert.Zero(t, sender.Count(), name)
		assert.Empty(t, sink.entries, name)
	}
}

func TestAuthorizationLowercaseHeaderMap(t *testing.T) {
	sender := &recordingSender{}
	h := newTestHandler(t, sender)
	hdr := http.Header{"authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(testToken+":"))}}
	h.Handle(context.Background(), Invocation{Method: http.MethodPost, Headers: hdr, Body: batch(eventJSON(testSender, 0, 1, 10, 20))})
	assert.Equal(t, 1, sender.Count())
}

func TestAuthorizedSchemeAgnostic(t *testing.T) {
	tok := base64.StdEncoding.EncodeToString([]byte("abc:"))
	assert.True(t, Authorized("Basic "+tok, "abc"))
	assert.True(t, Authorized("Token "+tok, "abc"))
	assert.False(t, Authorized("Basic  "+tok, "abc"))
	assert.False(t, Authorized("", "abc"))
}

func TestShapeMismatch(t *testing.T) {
	good := batch(eventJSON(testSender, 0, 1, 10, 20))
	cases := map[string]Invocation{
		"get":          {Method: http.MethodGet, Headers: authHeader(testToken), Body: good},
		"put":          {Method: http.MethodPut, Headers: authHeader(testToken), Body: good},
		"no events":    post([]byte(`{"Version":"2.0"}`)),
		"events null":  post([]byte(`{"Events":null}`)),
		"events obj":   post([]byte(`{"Events":{}}`)),
		"invalid json": post([]byte(`{"Events":[`)),
		"empty body":   post(nil),
	}
	for name, inv := range cases {
		sender := &recordingSender{}
		h := newTestHandler(t, sender)
		outcome, _ := h.process(context.Background(), inv)
		assert.Equal(t, OutcomeShapeMismatch, outcome, name)
		assert.Equal(t, 200, h.Handle(context.Background(), inv).StatusCode, name)
		assert.Zero(t, sender.Count(), name)
	}
}

func TestEmptyBatch(t *testing.T) {
	sender := &recordingSender{}
	h := newTestHandler(t, sender)
	outcome, reason := h.process(context.Background(), post(batch()))
	assert.Equal(t, OutcomeFilteredOut, outcome)
	assert.Equal(t, ReasonEmptyBatch, reason)
	assert.Zero(t, sender.Count())
}

func TestEventFilters(t *testing.T) {
	cases := []struct {
		name   string
		event  string
		reason string
	}{
		{"other device", eventJSON("999999999999999", 0, 1, 10, 20), ReasonDevice},
		{"free text code", eventJSON(testSender, 3, 1, 10, 20), ReasonCode},
		{"track interval code", eventJSON(testSender, 11, 1, 10, 20), ReasonCode},
		{"sos code", eventJSON(testSender, 4, 1, 10, 20), ReasonCode},
		{"no location", eventJSON(testSender, 0, 1, 0, 0), ReasonNoLocation},
	}
	for _, tc := range cases {
		sender := &recordingSender{}
		h := newTestHandler(t, sender)
		outcome, reason := h.process(context.Background(), post(batch(tc.event)))
		assert.Equal(t, OutcomeFilteredOut, outcome, tc.name)
		assert.Equal(t, tc.reason, reason, tc.name)
		assert.Zero(t, sender.Count(), tc.name)
	}
}

func TestEquatorAndMeridianAreNotSentinel(t *testing.T) {
	sender := &recordingSender{}
	h := newTestHandler(t, sender)
	h.Handle(context.Background(), post(batch(eventJSON(testSender, 0, 1, 0, 33.5))))
	h.Handle(context.Background(), post(batch(eventJSON(testSender, 0, 1, -1.25, 0))))
	require.Equal(t, 2, sender.Count())
	assert.Equal(t, "Location Update: lat 0 lon 33.5", sender.msgs[0].Message)
	assert.Equal(t, "Location Update: lat -1.25 lon 0", sender.msgs[1].Message)
}

func TestOnlyLatestEventIsEvaluated(t *testing.T) {
	sender := &recordingSender{}
	h := newTestHandler(t, sender)

	// The older event would pass; the newer one is from another device.
	outcome, reason := h.process(context.Background(), post(batch(
		eventJSON(testSender, 0, 100, 10, 20),
		eventJSON("999999999999999", 0, 200, 30, 40),
	)))
	assert.Equal(t, OutcomeFilteredOut, outcome)
	assert.Equal(t, ReasonDevice, reason)
	assert.Zero(t, sender.Count())

	h.Handle(context.Background(), post(batch(
		eventJSON(testSender, 0, 200, 30, 40),
		eventJSON(testSender, 0, 100, 10, 20),
	)))
	require.Equal(t, 1, sender.Count())
	assert.Equal(t, "Location Update: lat 30 lon 40", sender.msgs[0].Message)
}

func TestTieBreakTakesLastInBatch(t *testing.T) {
	sender := &recordingSender{}
	h := newTestHandler(t, sender)
	h.Handle(context.Background(), post(batch(
		eventJSON(testSender, 0, 500, 1, 1),
		eventJSON(testSender, 0, 500, 2, 2),
		eventJSON(testSender, 0, 100, 3, 3),
	)))
	require.Equal(t, 1, sender.Count())
	assert.Equal(t, "Location Update: lat 2 lon 2", sender.msgs[0].Message)
}

func TestForwardFailuresStillReturn200(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		outcome Outcome
		msg     string
		extra   map[string]any
	}{
		{
			name:    "rejected",
			err:     &inbound.StatusError{StatusCode: 500, Body: "boom"},
			outcome: OutcomeForwardRejected,
			msg:     "forward rejected",
			extra:   map[string]any{"status": 500, "body": "boom"},
		},
		{
			name:    "wrapped rejected",
			err:     fmt.Errorf("send: %w", &inbound.StatusError{StatusCode: 401, Body: "denied"}),
			outcome: OutcomeForwardRejected,
			msg:     "forward rejected",
			extra:   map[string]any{"status": 401, "body": "denied"},
		},
		{
			name:    "transport",
			err:     errors.New("dial tcp: connection refused"),
			outcome: OutcomeForwardFailed,
			msg:     "forward failed",
			extra:   map[string]any{"error": "dial tcp: connection refused"},
		},
	}
	for _, tc := range cases {
		sender := &recordingSender{err: tc.err}
		sink := &recordingSink{}
		h := newTestHandler(t, sender, WithSink(sink))
		inv := post(batch(eventJSON(testSender, 0, 1, 10, 20)))
		inv.Exec = ExecutionContext{FunctionName: "relay/forward", ActivationID: "act-1"}

		outcome, _ := h.process(context.Background(), inv)
		assert.Equal(t, tc.outcome, outcome, tc.name)
		require.Len(t, sink.entries, 1, tc.name)
		e := sink.entries[0]
		assert.Equal(t, logsink.LevelError, e.Level, tc.name)
		assert.Equal(t, tc.msg, e.Message, tc.name)
		assert.Equal(t, tc.extra, e.Extra, tc.name)
		assert.Equal(t, "act-1", e.Function["activation_id"], tc.name)
		assert.JSONEq(t, string(inv.Body), string(e.Event), tc.name)

		assert.Equal(t, Result{StatusCode: 200}, h.Handle(context.Background(), inv), tc.name)
		assert.Equal(t, 2, sender.Count(), tc.name)
	}
}

func TestSinkPanicIsSwallowed(t *testing.T) {
	sender := &recordingSender{err: errors.New("timeout")}
	h := newTestHandler(t, sender, WithSink(panickingSink{}))
	assert.NotPanics(t, func() {
		res := h.Handle(context.Background(), post(batch(eventJSON(testSender, 0, 1, 10, 20))))
		assert.Equal(t, 200, res.StatusCode)
	})
}

func TestMetricsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	sender := &recordingSender{}
	h := newTestHandler(t, sender, WithMetrics(m))

	h.Handle(context.Background(), post(batch(eventJSON(testSender, 0, 1, 10, 20))))
	h.Handle(context.Background(), post(batch(eventJSON(testSender, 0, 1, 0, 0))))
	h.Handle(context.Background(), Invocation{Method: http.MethodPost, Body: batch()})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues(string(OutcomeForwarded))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues(string(OutcomeFilteredOut))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues(string(OutcomeUnauthorized))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Filtered.WithLabelValues(ReasonNoLocation)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ForwardLatency))
}

func TestNewHandlerValidates(t *testing.T) {
	_, err := NewHandler(testSettings, nil)
	assert.Error(t, err)
	_, err = NewHandler(Settings{AuthToken: "x"}, &recordingSender{})
	assert.Error(t, err)
}

func TestRemainingTime(t *testing.T) {
	assert.Zero(t, ExecutionContext{}.RemainingTime())
	assert.Zero(t, ExecutionContext{Deadline: time.Now().Add(-time.Second)}.RemainingTime())
	rem := ExecutionContext{Deadline: time.Now().Add(time.Minute)}.RemainingTime()
	assert.True(t, rem > 50*time.Second && rem <= time.Minute)
}
