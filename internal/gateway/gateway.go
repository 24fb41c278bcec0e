// Package gateway dispatches LLM-selected tool calls to the upstream
// fleet API over plain HTTP, binding an OpenAPI operation's path, query,
// body, and header parameters from a flat argument bag, refreshing an
// OAuth2 client-credentials token on 401, and tripping a circuit breaker
// after repeated upstream failures.
package gateway

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mobilityone/fleetbridge/internal/breaker"
	"github.com/mobilityone/fleetbridge/internal/cache"
	"github.com/mobilityone/fleetbridge/internal/registry"
)

// DefaultGETCacheTTL is how long a successful GET tool call's response is
// cached when a cache is attached via SetCache.
const DefaultGETCacheTTL = 30 * time.Second

// DefaultTimeout is the hard per-call timeout for upstream tool requests.
const DefaultTimeout = 15 * time.Second

// Config configures the Gateway's HTTP client, connection pool, and
// OAuth2 refresh endpoint.
type Config struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int

	StaticAuthToken string // used verbatim as Authorization: Bearer <token> when OAuth2 is not configured

	OAuth2ClientID     string
	OAuth2ClientSecret string
	OAuth2TokenURL     string
	OAuth2Scope        string
}

// DefaultConfig returns the gateway's defaults: 15 s timeout, 100 idle
// connections total, 20 per host.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
	}
}

// Gateway issues HTTP calls for OpenAPI-described tool operations.
type Gateway struct {
	client  *http.Client
	logger  *zap.Logger
	breaker *breaker.Breaker

	token      string
	tokenMu    sync.Mutex
	oauth2Cfg  *clientcredentials.Config
	staticAuth string

	cache    *cache.Manager
	cacheTTL time.Duration
}

// SetCache attaches a cache.Manager that successful GET tool calls are
// read through and written to, reducing load on read-heavy fleet
// endpoints. ttl <= 0 falls back to DefaultGETCacheTTL.
func (g *Gateway) SetCache(m *cache.Manager, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultGETCacheTTL
	}
	g.cache = m
	g.cacheTTL = ttl
}

// New creates a Gateway. If cfg carries OAuth2 credentials, 401 responses
// trigger a client-credentials refresh; otherwise StaticAuthToken (if any)
// is sent unconditionally.
func New(cfg Config, logger *zap.Logger) *Gateway {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	g := &Gateway{
		client:     &http.Client{Transport: transport, Timeout: timeout},
		logger:     logger.With(zap.String("component", "gateway")),
		breaker:    breaker.New(breaker.DefaultFailureThreshold, breaker.DefaultCooldown),
		staticAuth: cfg.StaticAuthToken,
	}

	if cfg.OAuth2TokenURL != "" {
		g.oauth2Cfg = &clientcredentials.Config{
			ClientID:     cfg.OAuth2ClientID,
			ClientSecret: cfg.OAuth2ClientSecret,
			TokenURL:     cfg.OAuth2TokenURL,
			Scopes:       []string{cfg.OAuth2Scope},
		}
	}

	return g
}

// Close releases idle connections held by the gateway's HTTP client.
func (g *Gateway) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

// Result is a tool call outcome normalized for the agent loop: either a
// successful JSON payload or a structured error envelope.
type Result struct {
	Error bool `json:"error,omitempty"`
	// Status carries either an HTTP status code (error paths, or a 2xx
	// response with a body) or the literal string "success" for a 2xx
	// response with an empty body, matching the upstream envelope shape.
	Status  any    `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

// Invoke dispatches a single tool call against def, binding args into the
// path, query, body, and headers as described by the operation's method.
func (g *Gateway) Invoke(ctx context.Context, def *registry.ToolDefinition, args map[string]any) Result {
	if !g.breaker.Allow() {
		return Result{Error: true, Message: "upstream unavailable"}
	}

	cacheable := g.cache != nil && strings.EqualFold(def.Method, http.MethodGet)
	var cacheKey string
	if cacheable {
		cacheKey = g.getCacheKey(def, args)
		if result, ok := g.lookupCache(ctx, cacheKey); ok {
			return result
		}
	}

	req, err := g.buildRequest(ctx, def, args)
	if err != nil {
		return Result{Error: true, Message: "internal"}
	}

	resp, err := g.do(req)
	if err != nil {
		g.breaker.RecordFailure()
		return Result{Error: true, Message: "network"}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && g.oauth2Cfg != nil {
		resp.Body.Close()
		if refreshErr := g.refreshToken(ctx); refreshErr != nil {
			g.logger.Warn("oauth2 refresh failed", zap.Error(refreshErr))
			return Result{Error: true, Status: http.StatusUnauthorized, Message: "unauthorized"}
		}
		retryReq, err := g.buildRequest(ctx, def, args)
		if err != nil {
			return Result{Error: true, Message: "internal"}
		}
		resp, err = g.do(retryReq)
		if err != nil {
			g.breaker.RecordFailure()
			return Result{Error: true, Message: "network"}
		}
		defer resp.Body.Close()
	}

	result := g.handleResponse(resp)
	if cacheable && !result.Error {
		g.storeCache(ctx, cacheKey, result)
	}
	return result
}

// getCacheKey derives a cache key from the operation id and the arguments
// bound into path/query, so distinct calls to the same GET operation with
// different parameters never collide.
func (g *Gateway) getCacheKey(def *registry.ToolDefinition, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(fmt.Sprint(args))
	}
	sum := md5.Sum(data)
	return "gw_resp:" + def.OperationID + ":" + hex.EncodeToString(sum[:])
}

func (g *Gateway) lookupCache(ctx context.Context, key string) (Result, bool) {
	var result Result
	if err := g.cache.GetJSON(ctx, key, &result); err != nil {
		if !cache.IsCacheMiss(err) {
			g.logger.Warn("gateway cache lookup failed", zap.Error(err))
		}
		return Result{}, false
	}
	return result, true
}

func (g *Gateway) storeCache(ctx context.Context, key string, result Result) {
	if err := g.cache.SetJSON(ctx, key, result, g.cacheTTL); err != nil {
		g.logger.Warn("gateway cache store failed", zap.Error(err))
	}
}

func (g *Gateway) do(req *http.Request) (*http.Response, error) {
	return g.client.Do(req)
}

func (g *Gateway) handleResponse(resp *http.Response) Result {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.breaker.RecordFailure()
		return Result{Error: true, Message: "internal"}
	}

	if resp.StatusCode >= 500 {
		g.breaker.RecordFailure()
		return Result{Error: true, Status: resp.StatusCode, Message: httpStatusMessage(resp.StatusCode, body)}
	}

	if resp.StatusCode >= 400 {
		return Result{Error: true, Status: resp.StatusCode, Message: httpStatusMessage(resp.StatusCode, body)}
	}

	g.breaker.RecordSuccess()

	if len(bytes.TrimSpace(body)) == 0 {
		return Result{Status: "success", Data: nil}
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return Result{Status: resp.StatusCode, Data: string(body)}
	}
	return Result{Status: resp.StatusCode, Data: data}
}

func httpStatusMessage(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return http.StatusText(status)
	}
	return trimmed
}

func (g *Gateway) refreshToken(ctx context.Context) error {
	g.tokenMu.Lock()
	defer g.tokenMu.Unlock()

	tokenSource := g.oauth2Cfg.TokenSource(ctx)
	tok, err := tokenSource.Token()
	if err != nil {
		return fmt.Errorf("oauth2 client-credentials refresh: %w", err)
	}
	g.token = tok.AccessToken
	return nil
}

func (g *Gateway) authHeader() string {
	g.tokenMu.Lock()
	defer g.tokenMu.Unlock()
	if g.token != "" {
		return "Bearer " + g.token
	}
	if g.staticAuth != "" {
		return "Bearer " + g.staticAuth
	}
	return ""
}

// buildRequest binds args into the path, query/body, and headers per the
// operation's method, producing the outbound HTTP request.
func (g *Gateway) buildRequest(ctx context.Context, def *registry.ToolDefinition, args map[string]any) (*http.Request, error) {
	bag := make(map[string]any, len(args))
	for k, v := range args {
		bag[k] = v
	}

	path := bindPath(def.Path, bag)
	headers := liftHeaders(bag)

	fullURL := strings.TrimRight(def.BaseURL, "/") + path

	var req *http.Request
	var err error

	switch strings.ToUpper(def.Method) {
	case http.MethodGet, http.MethodDelete:
		q := toQuery(bag)
		if q != "" {
			fullURL += "?" + q
		}
		req, err = http.NewRequestWithContext(ctx, def.Method, fullURL, nil)
	default:
		body, marshalErr := json.Marshal(bag)
		if marshalErr != nil {
			return nil, marshalErr
		}
		req, err = http.NewRequestWithContext(ctx, def.Method, fullURL, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if auth := g.authHeader(); auth != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", auth)
	}

	return req, nil
}

// bindPath substitutes {name} placeholders with their bag value, deleting
// consumed names from bag.
func bindPath(template string, bag map[string]any) string {
	path := template
	for name := range bag {
		placeholder := "{" + name + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, fmt.Sprintf("%v", bag[name]))
			delete(bag, name)
		}
	}
	return path
}

// liftHeaders removes parameters meant for the header set (x- prefixed or
// tenantId, case-insensitive) from bag and returns them as headers.
func liftHeaders(bag map[string]any) map[string]string {
	headers := make(map[string]string)
	for name := range bag {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-") || lower == "tenantid" {
			headers[name] = fmt.Sprintf("%v", bag[name])
			delete(bag, name)
		}
	}
	return headers
}

func toQuery(bag map[string]any) string {
	values := url.Values{}
	for k, v := range bag {
		values.Set(k, fmt.Sprintf("%v", v))
	}
	return values.Encode()
}
