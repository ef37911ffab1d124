package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// HTTPClient implements Client against the Object Store's REST surface
// (spec.md §6), wrapped in a circuit breaker so a sustained outage trips
// open instead of the reconciler hammering a down store on every tick —
// grounded on the kubernaut pack repo's circuit-breaker-wrapped external
// calls, adapted here from Kubernetes-API-server protection to a plain
// REST backend.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPClient builds a client against baseURL (config.StoreConfig.DatabaseURL).
func NewHTTPClient(baseURL string, logger *zap.Logger) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "object-store",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("object store circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c
}

// doWithRetry retries transient failures with capped exponential backoff,
// inside the circuit breaker, per spec.md §4.3's "transient errors are
// retried with backoff indefinitely" — bounded here by ctx cancellation
// and by a hard stop after 22 attempts.
func (c *HTTPClient) doWithRetry(ctx context.Context, req func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			resp, err := req()
			if err != nil {
				return nil, err
			}
			if resp.StatusCode == http.StatusNotFound {
				resp.Body.Close()
				return nil, ErrNotFound
			}
			if resp.StatusCode == http.StatusConflict {
				resp.Body.Close()
				return nil, ErrVersionConflict
			}
			if resp.StatusCode >= 500 {
				resp.Body.Close()
				return nil, fmt.Errorf("object store returned %d", resp.StatusCode)
			}
			return resp, nil
		})
		if err == nil {
			return result.(*http.Response), nil
		}
		if err == ErrNotFound || err == ErrVersionConflict {
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
		if attempt > 20 {
			// the breaker itself will already be open well before this;
			// this is a hard backstop against an infinite loop in tests.
			return nil, fmt.Errorf("object store unreachable after retries: %w", lastErr)
		}
	}
}

func backoff(attempt int) time.Duration {
	base := 100 * time.Millisecond
	cap := 30 * time.Second
	d := base << attempt
	if d <= 0 || d > cap {
		d = cap
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	resp, err := c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		return c.http.Do(req)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// GetRobot fetches a single Robot object by name.
func (c *HTTPClient) GetRobot(ctx context.Context, name string) (*Robot, error) {
	var r Robot
	if err := c.get(ctx, "/robot/"+url.PathEscape(name), &r); err != nil {
		return nil, fmt.Errorf("get robot %s: %w", name, err)
	}
	return &r, nil
}

// GetMission fetches a single Mission object by name.
func (c *HTTPClient) GetMission(ctx context.Context, name string) (*Mission, error) {
	var m Mission
	if err := c.get(ctx, "/mission/"+url.PathEscape(name), &m); err != nil {
		return nil, fmt.Errorf("get mission %s: %w", name, err)
	}
	return &m, nil
}

// ListRobots lists Robot objects matching filter.
func (c *HTTPClient) ListRobots(ctx context.Context, filter ListFilter) ([]*Robot, error) {
	var robots []*Robot
	if err := c.get(ctx, "/robot?"+filter.query(), &robots); err != nil {
		return nil, fmt.Errorf("list robots: %w", err)
	}
	return robots, nil
}

// ListMissions lists Mission objects matching filter.
func (c *HTTPClient) ListMissions(ctx context.Context, filter ListFilter) ([]*Mission, error) {
	var missions []*Mission
	if err := c.get(ctx, "/mission?"+filter.query(), &missions); err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	return missions, nil
}

func (f ListFilter) query() string {
	v := url.Values{}
	if f.MinBattery != nil {
		v.Set("min_battery", fmt.Sprintf("%v", *f.MinBattery))
	}
	if f.MaxBattery != nil {
		v.Set("max_battery", fmt.Sprintf("%v", *f.MaxBattery))
	}
	if f.State != "" {
		v.Set("state", f.State)
	}
	if f.Online != nil {
		v.Set("online", fmt.Sprintf("%v", *f.Online))
	}
	for _, n := range f.Names {
		v.Add("names[]", n)
	}
	return v.Encode()
}

type statusPatchBody struct {
	ExpectedVersion int64       `json:"expected_version"`
	Status          interface{} `json:"status"`
}

func (c *HTTPClient) patchStatus(ctx context.Context, path string, expectedVersion int64, status interface{}) error {
	body, err := json.Marshal(statusPatchBody{ExpectedVersion: expectedVersion, Status: status})
	if err != nil {
		return err
	}
	_, err = c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.http.Do(req)
	})
	return err
}

// PatchRobotStatus writes robot.status, version-guarded.
func (c *HTTPClient) PatchRobotStatus(ctx context.Context, name string, expectedVersion int64, status RobotStatus) error {
	if err := c.patchStatus(ctx, "/robot/"+url.PathEscape(name)+"/status", expectedVersion, status); err != nil {
		return fmt.Errorf("patch robot status %s: %w", name, err)
	}
	return nil
}

// PatchMissionStatus writes mission.status, version-guarded.
func (c *HTTPClient) PatchMissionStatus(ctx context.Context, name string, expectedVersion int64, status MissionStatus) error {
	if err := c.patchStatus(ctx, "/mission/"+url.PathEscape(name)+"/status", expectedVersion, status); err != nil {
		return fmt.Errorf("patch mission status %s: %w", name, err)
	}
	return nil
}
