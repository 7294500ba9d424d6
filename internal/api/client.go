package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"maintd/internal/eventbus"
	"maintd/internal/storage"
	"maintd/internal/task"
	"maintd/internal/task/scheduler"
	"maintd/internal/task/store"
)

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	Status int
	Body   ErrorBody
}

func (e *APIError) Error() string {
	if e.Body.Field != "" {
		return fmt.Sprintf("api %d: %s: %s", e.Status, e.Body.Field, e.Body.Error)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Body.Error)
}

// Client talks to a running daemon over its HTTP API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		ae := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &ae.Body) != nil || ae.Body.Error == "" {
			ae.Body.Error = strings.TrimSpace(string(raw))
		}
		return ae
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Status(ctx context.Context) (scheduler.Status, error) {
	var st scheduler.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

func (c *Client) SetScheduler(ctx context.Context, enabled bool) (store.Settings, error) {
	var st store.Settings
	err := c.do(ctx, http.MethodPut, "/api/scheduler", schedulerToggle{Enabled: &enabled}, &st)
	return st, err
}

func (c *Client) Settings(ctx context.Context) (store.Settings, error) {
	var st store.Settings
	err := c.do(ctx, http.MethodGet, "/api/settings", nil, &st)
	return st, err
}

func (c *Client) UpdateSettings(ctx context.Context, p SettingsPatch) (store.Settings, error) {
	var st store.Settings
	err := c.do(ctx, http.MethodPut, "/api/settings", p, &st)
	return st, err
}

func (c *Client) Templates(ctx context.Context) ([]task.Template, error) {
	var out []task.Template
	err := c.do(ctx, http.MethodGet, "/api/templates", nil, &out)
	return out, err
}

func (c *Client) ListTasks(ctx context.Context) ([]task.Task, error) {
	var out []task.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &out)
	return out, err
}

func (c *Client) GetTask(ctx context.Context, id string) (task.Task, error) {
	var t task.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &t)
	return t, err
}

func (c *Client) CreateTask(ctx context.Context, d task.Draft) (task.Task, error) {
	var t task.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", d, &t)
	return t, err
}

func (c *Client) CreateFromTemplate(ctx context.Context, name string) (task.Task, error) {
	var t task.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks?template="+url.QueryEscape(name), nil, &t)
	return t, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, p task.Patch) (task.Task, error) {
	var t task.Task
	err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), p, &t)
	return t, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) SetTaskEnabled(ctx context.Context, id string, enabled bool) (task.Task, error) {
	verb := "disable"
	if enabled {
		verb = "enable"
	}
	var t task.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/"+verb, nil, &t)
	return t, err
}

func (c *Client) RunTask(ctx context.Context, id string) (task.Outcome, error) {
	var out task.Outcome
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/run", nil, &out)
	return out, err
}

func (c *Client) Runs(ctx context.Context, taskID string, limit int) ([]storage.RunEntry, error) {
	q := url.Values{}
	if taskID != "" {
		q.Set("task", taskID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []storage.RunEntry
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Events streams bus events until ctx ends or the daemon closes the socket.
// The returned channel is closed when the stream stops.
func (c *Client) Events(ctx context.Context) (<-chan eventbus.Event, error) {
	u := c.BaseURL + "/api/events"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	opts := &websocket.DialOptions{}
	if c.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.Token}}
	}
	conn, _, err := websocket.Dial(ctx, u, opts)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	out := make(chan eventbus.Event, 16)
	go func() {
		defer close(out)
		defer conn.CloseNow()
		for {
			var e eventbus.Event
			if err := wsjson.Read(ctx, conn, &e); err != nil {
				return
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
