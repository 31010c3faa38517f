// Package quarry is a Go client for the swarm quarry coordinator. It speaks
// the same query-string protocol the in-game turtles use, which makes it
// suitable for worker simulators, operator tooling and integration tests.
package quarry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the coordinator.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// Point is a grid coordinate.
type Point struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// Shaft is one excavation unit as returned by the coordinator.
type Shaft struct {
	X           int    `json:"x"`
	Z           int    `json:"z"`
	ClaimedAt   int64  `json:"claimed_time,omitempty"`
	ClaimedBy   string `json:"claimed_by,omitempty"`
	CompletedAt int64  `json:"completed_time,omitempty"`
}

// Claim is the outcome of ClaimShaft. Exhausted reports that no shafts remain.
type Claim struct {
	Shaft     Shaft
	Remaining int
	Exhausted bool
}

// Reservation is a travel path held by a worker.
type Reservation struct {
	Start      Point `json:"start"`
	Dest       Point `json:"dest"`
	ReservedAt int64 `json:"reserved_time,omitempty"`
}

// Swarm is the public view of a swarm. The owner address is never exposed.
type Swarm struct {
	CreatedAt    int64                  `json:"time_created"`
	Width        int                    `json:"width"`
	Length       int                    `json:"length"`
	Pending      []Shaft                `json:"shafts"`
	Claimed      []Shaft                `json:"claimed"`
	Done         []Shaft                `json:"done"`
	Reservations map[string]Reservation `json:"travelData"`
}

// Stats summarises swarm progress.
type Stats struct {
	ID           string `json:"id"`
	Total        int    `json:"total"`
	Pending      int    `json:"pending"`
	Claimed      int    `json:"claimed"`
	Done         int    `json:"done"`
	Reservations int    `json:"reservations"`
	Finished     bool   `json:"finished"`
	CreatedAt    int64  `json:"time_created"`
	LastActivity int64  `json:"last_activity,omitempty"`
}

// APIError represents an error envelope returned by the coordinator.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Code != "" {
		return fmt.Sprintf("quarry api error (%d): %s - %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("quarry api error (%d): %s", e.StatusCode, msg)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken sets the shared token sent with mutating commands.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the stored token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ListSwarms returns every swarm id.
func (c *Client) ListSwarms(ctx context.Context) ([]string, error) {
	env, err := c.get(ctx, "/swarm/", nil)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(env.Success, &ids); err != nil {
		return nil, fmt.Errorf("decode swarm list: %w", err)
	}
	return ids, nil
}

// GetSwarm returns the public view of a swarm.
func (c *Client) GetSwarm(ctx context.Context, swarmID string) (Swarm, error) {
	env, err := c.get(ctx, "/swarm/"+swarmID+"/", nil)
	if err != nil {
		return Swarm{}, err
	}
	var keyed map[string]Swarm
	if err := json.Unmarshal(env.Success, &keyed); err != nil {
		return Swarm{}, fmt.Errorf("decode swarm: %w", err)
	}
	return keyed[swarmID], nil
}

// Stats returns progress counters for a swarm.
func (c *Client) Stats(ctx context.Context, swarmID string) (Stats, error) {
	env, err := c.get(ctx, "/swarm/"+swarmID+"/stats/", nil)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	if err := json.Unmarshal(env.Success, &stats); err != nil {
		return Stats{}, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}

// CreateSwarm creates a swarm and returns the number of generated shafts.
func (c *Client) CreateSwarm(ctx context.Context, swarmID string, width, length int) (int, error) {
	env, err := c.command(ctx, swarmID, "create", url.Values{
		"width":  {strconv.Itoa(width)},
		"length": {strconv.Itoa(length)},
	})
	if err != nil {
		return 0, err
	}
	if env.Shafts == nil {
		return 0, errors.New("quarry: create response missing shaft count")
	}
	return *env.Shafts, nil
}

// ClaimShaft claims the next shaft for workerID.
func (c *Client) ClaimShaft(ctx context.Context, swarmID, workerID string) (Claim, error) {
	env, err := c.command(ctx, swarmID, "claimshaft", url.Values{"id": {workerID}})
	if err != nil {
		return Claim{}, err
	}
	if len(env.Success) == 0 && env.Remaining != nil {
		return Claim{Exhausted: true}, nil
	}
	var shaft Shaft
	if err := json.Unmarshal(env.Success, &shaft); err != nil {
		return Claim{}, fmt.Errorf("decode shaft: %w", err)
	}
	claim := Claim{Shaft: shaft}
	if env.Remaining != nil {
		claim.Remaining = *env.Remaining
	}
	return claim, nil
}

// FinishShaft reports the shaft at (x, z) as completed.
func (c *Client) FinishShaft(ctx context.Context, swarmID string, x, z int) error {
	_, err := c.command(ctx, swarmID, "finishedshaft", url.Values{
		"x": {strconv.Itoa(x)},
		"z": {strconv.Itoa(z)},
	})
	return err
}

// Travel requests a travel reservation. A conflicting path is reported as
// admitted=false with a nil error.
func (c *Client) Travel(ctx context.Context, swarmID, workerID string, start, dest Point) (bool, error) {
	_, err := c.command(ctx, swarmID, "travel", url.Values{
		"id":     {workerID},
		"startX": {strconv.Itoa(start.X)},
		"startZ": {strconv.Itoa(start.Z)},
		"destX":  {strconv.Itoa(dest.X)},
		"destZ":  {strconv.Itoa(dest.Z)},
	})
	if IsCode(err, "CONFLICT") {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TravelDone releases the worker's reservation. It returns false when the
// worker held none.
func (c *Client) TravelDone(ctx context.Context, swarmID, workerID string) (bool, error) {
	env, err := c.command(ctx, swarmID, "traveldone", url.Values{"id": {workerID}})
	if err != nil {
		return false, err
	}
	return len(env.Error) == 0, nil
}

type envelope struct {
	Success   json.RawMessage `json:"success"`
	Error     json.RawMessage `json:"error"`
	Code      string          `json:"code"`
	Detail    string          `json:"detail"`
	Shafts    *int            `json:"shafts"`
	Remaining *int            `json:"remaining"`
}

func (c *Client) command(ctx context.Context, swarmID, command string, query url.Values) (envelope, error) {
	if token := c.Token(); token != "" {
		query.Set("token", token)
	}
	return c.get(ctx, "/swarm/"+swarmID+"/"+command+"/", query)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values) (envelope, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint) + "/"}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return envelope{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, &APIError{StatusCode: resp.StatusCode, Message: string(data)}
	}
	if resp.StatusCode >= 400 {
		return env, &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: errorMessage(env.Error)}
	}
	// A success envelope that also carries an error note (releasing a missing
	// reservation) and the exhausted claim reply are handled by the callers.
	if len(env.Error) > 0 && len(env.Success) == 0 && env.Remaining == nil {
		return env, &APIError{
			StatusCode: resp.StatusCode,
			Code:       env.Code,
			Message:    errorMessage(env.Error),
			Detail:     env.Detail,
		}
	}
	return env, nil
}

// errorMessage accepts both the plain string form and the {"message": ...}
// object returned by the swarm info endpoint.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
