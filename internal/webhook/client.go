// Package webhook talks to the reservation backend over HTTP.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"reserva/internal/availability"
	"reserva/internal/model"
	"reserva/internal/panel"
)

const configCacheKey = "reserva:availability-config"

// Endpoints are paths relative to the base URL.
type Endpoints struct {
	Config string
	Panel  string
	Submit string
	Health string
}

func (e Endpoints) withDefaults() Endpoints {
	if e.Config == "" {
		e.Config = "/availability-config"
	}
	if e.Panel == "" {
		e.Panel = "/panel-capacity"
	}
	if e.Submit == "" {
		e.Submit = "/reservations"
	}
	if e.Health == "" {
		e.Health = "/healthz"
	}
	return e
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Client calls the backend collaborators.
type Client struct {
	baseURL    string
	apiKey     string
	endpoints  Endpoints
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewClient constructs a client with baseURL and an optional API key.
func NewClient(baseURL, apiKey string, endpoints Endpoints, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		endpoints:  endpoints.withDefaults(),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UseRedisCache enables caching of the availability config.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// LoadAvailability fetches the availability config.
func (c *Client) LoadAvailability(ctx context.Context) (*availability.Config, error) {
	var cfg availability.Config
	if c.readCache(ctx, configCacheKey, &cfg) {
		return &cfg, nil
	}
	if err := c.doGet(ctx, c.baseURL+c.endpoints.Config, &cfg); err != nil {
		return nil, fmt.Errorf("load availability config: %w", err)
	}
	c.writeCache(ctx, configCacheKey, cfg)
	return &cfg, nil
}

// CheckCapacity asks how many panels are already booked.
func (c *Client) CheckCapacity(ctx context.Context, q panel.Query) (panel.Result, error) {
	params := url.Values{}
	params.Set("date", q.Date.String())
	params.Set("partySize", strconv.Itoa(q.PartySize))
	params.Set("location", string(q.Location))

	var res panel.Result
	if err := c.doGet(ctx, c.baseURL+c.endpoints.Panel+"?"+params.Encode(), &res); err != nil {
		return panel.Result{}, fmt.Errorf("check panel capacity: %w", err)
	}
	return res, nil
}

// SubmitResponse is the backend's answer to a submission.
type SubmitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Submit posts the record. A response without success=true is an error.
func (c *Client) Submit(ctx context.Context, rec model.SubmissionRecord) error {
	var resp SubmitResponse
	if err := c.doPost(ctx, c.baseURL+c.endpoints.Submit, rec, &resp); err != nil {
		return err
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "submission rejected"
		}
		return errors.New(msg)
	}
	return nil
}

// HealthCheck checks if the backend is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.endpoints.Health, http.NoBody)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, nil)
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

// InvalidateCache drops the cached availability config.
func (c *Client) InvalidateCache(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, configCacheKey).Err()
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}
