// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package client is the agent's HTTP client for the Timeharbor server:
// reachability probes, offline mutation replay and batch event pushes.
// Responses are classified into coarse outcomes; the orchestrator decides
// what each outcome means for the queue.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/Dharp02/timeharbor/internal/config"
	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/models"
)

// Outcome classifies a server interaction for the drain loop.
type Outcome int

const (
	// OutcomeOK: the request succeeded.
	OutcomeOK Outcome = iota

	// OutcomeAuthExpired: the session is no longer valid (401). Queued
	// work made under this identity must not be replayed.
	OutcomeAuthExpired

	// OutcomeClientError: the server rejected this specific request
	// (other 4xx). Retrying the same payload will fail the same way.
	OutcomeClientError

	// OutcomeTransient: network failure or 5xx. Worth retrying later
	// with everything in place.
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeAuthExpired:
		return "auth_expired"
	case OutcomeClientError:
		return "client_error"
	default:
		return "transient"
	}
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Status string           `json:"status"`
	Data   json.RawMessage  `json:"data"`
	Error  *models.APIError `json:"error"`
}

// Client talks to one Timeharbor server on behalf of one device.
type Client struct {
	base  *url.URL
	token string

	httpc  *http.Client
	probec *http.Client

	healthPath string

	// breaker guards batch pushes so a flapping server does not get
	// hammered by every sync trigger.
	breaker *gobreaker.CircuitBreaker[*models.BatchResult]
}

// New builds a client from agent configuration.
func New(cfg config.AgentConfig) (*Client, error) {
	base, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}

	c := &Client{
		base:       base,
		token:      cfg.Token,
		healthPath: cfg.HealthPath,
		httpc:      &http.Client{Timeout: cfg.RequestTimeout},
		probec:     &http.Client{Timeout: cfg.ProbeTimeout},
	}

	c.breaker = gobreaker.NewCircuitBreaker[*models.BatchResult](gobreaker.Settings{
		Name:        "batch-push",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return c, nil
}

// Probe checks server reachability with a HEAD request against the health
// endpoint. A cache-busting query parameter defeats intermediary caches
// that would otherwise answer for a dead server.
func (c *Client) Probe(ctx context.Context) error {
	u := c.resolve(c.healthPath)
	u.RawQuery = "t=" + strconv.FormatInt(time.Now().UnixNano(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.probec.Do(req)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe: server unhealthy (%d)", resp.StatusCode)
	}
	return nil
}

// ReplayMutation replays one queued offline write verbatim. On success
// the returned MutationResponse carries the canonical id the server
// assigned, if any.
func (c *Client) ReplayMutation(ctx context.Context, m *models.OfflineMutation) (Outcome, *models.MutationResponse, error) {
	u := c.resolve(m.Path)

	var body io.Reader
	if len(m.Body) > 0 {
		body = bytes.NewReader(m.Body)
	}
	req, err := http.NewRequestWithContext(ctx, m.Method, u.String(), body)
	if err != nil {
		return OutcomeClientError, nil, fmt.Errorf("building replay request: %w", err)
	}
	c.decorate(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return OutcomeTransient, nil, fmt.Errorf("replaying mutation %d: %w", m.Seq, err)
	}
	defer resp.Body.Close()

	outcome := classify(resp.StatusCode)
	if outcome != OutcomeOK {
		return outcome, nil, fmt.Errorf("replaying mutation %d: server returned %d", m.Seq, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		// The write landed; only the canonical id is lost. Treat as
		// success without reconciliation rather than replaying a write
		// the server already applied.
		logging.Warn().Uint64("seq", m.Seq).Err(err).
			Msg("Mutation reply undecodable, skipping id reconciliation")
		return OutcomeOK, nil, nil
	}

	var mr models.MutationResponse
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &mr); err != nil {
			return OutcomeOK, nil, nil
		}
	}
	return OutcomeOK, &mr, nil
}

// PushBatch submits pending time events to the batch endpoint through the
// circuit breaker. An open breaker reports as transient.
func (c *Client) PushBatch(ctx context.Context, events []models.TimeEvent) (Outcome, *models.BatchResult, error) {
	if len(events) == 0 {
		return OutcomeOK, &models.BatchResult{}, nil
	}

	var authErr, clientErr bool
	result, err := c.breaker.Execute(func() (*models.BatchResult, error) {
		res, status, err := c.doPushBatch(ctx, events)
		if err != nil {
			switch classify(status) {
			case OutcomeAuthExpired:
				authErr = true
			case OutcomeClientError:
				clientErr = true
			}
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		switch {
		case authErr:
			return OutcomeAuthExpired, nil, err
		case clientErr:
			return OutcomeClientError, nil, err
		default:
			return OutcomeTransient, nil, err
		}
	}
	return OutcomeOK, result, nil
}

func (c *Client) doPushBatch(ctx context.Context, events []models.TimeEvent) (*models.BatchResult, int, error) {
	payload, err := json.Marshal(models.BatchRequest{Events: events})
	if err != nil {
		return nil, 0, fmt.Errorf("marshaling batch: %w", err)
	}

	u := c.resolve("/api/v1/events/batch")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("building batch request: %w", err)
	}
	c.decorate(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("pushing batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("pushing batch: server returned %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decoding batch reply: %w", err)
	}
	var res models.BatchResult
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &res); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("decoding batch result: %w", err)
		}
	}
	return &res, resp.StatusCode, nil
}

func (c *Client) resolve(path string) *url.URL {
	ref := &url.URL{Path: path}
	if !strings.HasPrefix(path, "/") {
		ref.Path = "/" + path
	}
	return c.base.ResolveReference(ref)
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classify maps an HTTP status to an Outcome. Status 0 means the request
// never got a response.
func classify(status int) Outcome {
	switch {
	case status == 0:
		return OutcomeTransient
	case status >= 200 && status < 300:
		return OutcomeOK
	case status == http.StatusUnauthorized:
		return OutcomeAuthExpired
	case status >= 400 && status < 500:
		return OutcomeClientError
	default:
		return OutcomeTransient
	}
}
