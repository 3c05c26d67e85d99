package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const messagePath = "/IPCInbound/V1/Messaging.svc/Message"

const LocationTypeGPS = "GPSLocation"

type Client struct {
	// Host of the Inbound API, e.g. "ipcinbound.inreachapp.com". Ignored when BaseURL is set.
	Host     string
	BaseURL  string
	Username string
	Password string
	// HTTP is used for requests; nil means a client without its own timeout,
	// leaving the caller's context deadline in charge.
	HTTP   *http.Client
	Logger zerolog.Logger
}

type Coordinate struct {
	Latitude  float64 `json:"Latitude"`
	Longitude float64 `json:"Longitude"`
}

type ReferencePoint struct {
	LocationType string     `json:"LocationType"`
	Altitude     float64    `json:"Altitude"`
	Speed        float64    `json:"Speed"`
	Course       float64    `json:"Course"`
	Coordinate   Coordinate `json:"Coordinate"`
	Label        string     `json:"Label,omitempty"`
}

type Message struct {
	Recipients     []string       `json:"Recipients"`
	Sender         string         `json:"Sender"`
	Timestamp      Timestamp      `json:"Timestamp"`
	Message        string         `json:"Message"`
	ReferencePoint ReferencePoint `json:"ReferencePoint"`
}

type RequestBody struct {
	Messages []Message `json:"Messages"`
}

// Timestamp is wall-clock epoch milliseconds, serialized as "/Date(<ms>)/".
type Timestamp int64

func NewTimestamp(t time.Time) Timestamp { return Timestamp(t.UnixMilli()) }

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("/Date(%d)/", int64(ts)))
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		*ts = Timestamp(ms)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if _, err := fmt.Sscanf(s, "/Date(%d)/", &ms); err != nil {
		return fmt.Errorf("invalid inbound timestamp %q: %w", s, err)
	}
	*ts = Timestamp(ms)
	return nil
}

// StatusError is returned when the Inbound API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inbound http %d: %s", e.StatusCode, e.Body)
}

func (c Client) URL() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = "https://" + strings.TrimRight(c.Host, "/")
	}
	return base + messagePath
}

// Send posts msgs in a single request. It makes exactly one attempt.
func (c Client) Send(ctx context.Context, msgs ...Message) error {
	b, err := json.Marshal(RequestBody{Messages: msgs})
	if err != nil {
		return fmt.Errorf("encode inbound body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.Username, c.Password)

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	c.Logger.Debug().Str("url", req.URL.String()).Int("messages", len(msgs)).Msg("inbound send")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("inbound request: %w", err)
	}
	defer resp.Body.Close()
	bb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bb)}
	}
	c.Logger.Debug().Int("status", resp.StatusCode).Msg("inbound accepted")
	return nil
}
