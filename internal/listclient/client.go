package listclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ws "github.com/coder/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/mfeltner/basket/internal/model"
	"github.com/mfeltner/basket/internal/websocket"
)

const (
	requestTimeout    = 10 * time.Second
	reconnectBase     = time.Second
	reconnectCap      = 30 * time.Second
	healthyConnection = time.Minute
)

// Client implements the remote list store contract against a basket server:
// fetch, insert-if-absent, replace-items over HTTP, and a change-notification
// subscription over WebSocket.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client for the server at baseURL (e.g. "http://localhost:8080").
func New(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		logger: logger,
	}
}

// Fetch returns the list with the given id, or nil if the server has no row
// for it.
func (c *Client) Fetch(ctx context.Context, id string) (*model.ShoppingList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/lists/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError("fetch list", resp)
	}

	var list model.ShoppingList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return &list, nil
}

// InsertIfAbsent creates an empty list under the given id if none exists and
// returns the stored list either way.
func (c *Client) InsertIfAbsent(ctx context.Context, id string) (*model.ShoppingList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/lists/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("insert list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError("insert list", resp)
	}

	var list model.ShoppingList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return &list, nil
}

type replaceItemsRequest struct {
	Items  []model.ShoppingItem `json:"items"`
	Origin string               `json:"origin"`
}

type replaceItemsResponse struct {
	ID        string    `json:"id"`
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReplaceItems overwrites the list's items on the server, tagging the write
// with origin so the caller can recognize its own echo on the change feed.
// There is no automatic retry: a failure is returned to the caller.
func (c *Client) ReplaceItems(ctx context.Context, id string, items []model.ShoppingItem, origin string) (*model.ShoppingList, error) {
	if items == nil {
		items = []model.ShoppingItem{}
	}
	body, err := json.Marshal(replaceItemsRequest{Items: items, Origin: origin})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/api/lists/"+id+"/items", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replace items: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError("replace items", resp)
	}

	var rr replaceItemsResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &model.ShoppingList{
		ID:        rr.ID,
		Items:     items,
		Revision:  rr.Revision,
		UpdatedAt: rr.UpdatedAt,
	}, nil
}

// Delete removes the list from the server.
func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/lists/"+id, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return responseError("delete list", resp)
	}
	return nil
}

// SaveToHistory snapshots the given items as a named saved list.
func (c *Client) SaveToHistory(ctx context.Context, name string, items []model.ShoppingItem) (*model.SavedList, error) {
	body, err := json.Marshal(map[string]any{"name": name, "items": items})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/history", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("save to history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, responseError("save to history", resp)
	}

	var saved model.SavedList
	if err := json.NewDecoder(resp.Body).Decode(&saved); err != nil {
		return nil, fmt.Errorf("decode saved list: %w", err)
	}
	return &saved, nil
}

// Subscribe opens the change feed for the given list and delivers each
// snapshot to onSnapshot until ctx is cancelled. A dropped connection is
// re-dialed with capped exponential backoff; the backoff resets after a
// connection that stayed healthy for a while. Subscription delivery stops
// when ctx ends.
func (c *Client) Subscribe(ctx context.Context, id string, onSnapshot func(websocket.Snapshot)) {
	go func() {
		backoff := newReconnectBackoff()
		for {
			start := time.Now()
			err := c.readFeed(ctx, id, onSnapshot)
			if ctx.Err() != nil {
				return
			}
			if time.Since(start) >= healthyConnection {
				backoff = newReconnectBackoff()
			}

			delay, _ := backoff.Next()
			c.logger.Warn("subscription dropped, reconnecting", "list_id", id, "delay", delay, "error", err)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}()
}

func newReconnectBackoff() retry.Backoff {
	return retry.WithCappedDuration(reconnectCap, retry.NewExponential(reconnectBase))
}

func (c *Client) readFeed(ctx context.Context, id string, onSnapshot func(websocket.Snapshot)) error {
	conn, _, err := ws.Dial(ctx, c.feedURL(id), nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read feed: %w", err)
		}

		var snap websocket.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			c.logger.Warn("malformed snapshot", "list_id", id, "error", err)
			continue
		}
		onSnapshot(snap)
	}
}

func (c *Client) feedURL(id string) string {
	url := c.baseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws?list_id=" + id
}

func responseError(op string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("%s: %s (status %d)", op, body.Error, resp.StatusCode)
	}
	return fmt.Errorf("%s: status %d", op, resp.StatusCode)
}
