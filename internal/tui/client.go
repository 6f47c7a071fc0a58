package tui

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/adworker/internal/events"
)

// Client talks to the adworker HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
	}
}

func (c *Client) get(path string, timeout time.Duration) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	hc := c.http
	if timeout > 0 {
		hc = &http.Client{Timeout: timeout, Transport: c.http.Transport}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return resp, nil
}

// Health fetches /healthz.
func (c *Client) Health() (health, error) {
	var h health
	resp, err := c.get("/healthz", 2*time.Second)
	if err != nil {
		return h, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}

// Stream calls fn for every event on /events until the stream ends.
func (c *Client) Stream(fn func(events.Event)) error {
	resp, err := c.get("/events", 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return ReadSSE(resp.Body, fn)
}

// ReadSSE parses a server-sent event stream. Comment lines are skipped and an
// event is emitted at each blank line, or at EOF if one is still pending.
func ReadSSE(r io.Reader, fn func(events.Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	var (
		ev      events.Event
		data    []string
		pending bool
	)
	flush := func() {
		if pending {
			ev.Data = json.RawMessage(strings.Join(data, "\n"))
			ev.At = time.Now()
			fn(ev)
		}
		ev, data, pending = events.Event{}, nil, false
	}
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			ev.ID, _ = strconv.ParseInt(value, 10, 64)
		case "event":
			ev.Type = value
		case "data":
			data = append(data, value)
		default:
			continue
		}
		pending = true
	}
	if err := sc.Err(); err != nil {
		return err
	}
	flush()
	return nil
}
