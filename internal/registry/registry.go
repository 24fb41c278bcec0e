// Package registry turns an OpenAPI document into a set of LLM-callable
// tools retrievable by semantic similarity: it embeds every operation's
// description once (caching the vector by content hash) and serves
// find_relevant_tools against an atomically-swapped, read-only snapshot so
// a hot reload never blocks or races a concurrent lookup.
package registry

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mobilityone/fleetbridge/internal/kvstore"
	"github.com/mobilityone/fleetbridge/llm"
	"github.com/mobilityone/fleetbridge/llm/embedding"
	"github.com/mobilityone/fleetbridge/tools/openapi"
)

// DefaultThreshold is the minimum cosine similarity a tool must clear to be
// considered relevant.
const DefaultThreshold = 0.25

const (
	embedCachePrefix = "tool_embed:"
	queryCachePrefix = "query_embed:"
	queryCacheTTL    = 1 * time.Hour
)

// ToolDefinition is one OpenAPI operation compiled into an LLM-callable
// tool, with its L2-normalized description embedding.
type ToolDefinition struct {
	OperationID string
	Description string
	Method      string
	Path        string
	BaseURL     string
	Schema      llm.ToolSchema
	Parameters  []openapi.Parameter
	RequestBody *openapi.RequestBody
	Embedding   []float64
}

// snapshot is the unit of atomic swap: a reader either sees all three
// structures from the old load or all three from the new one.
type snapshot struct {
	defs    map[string]*ToolDefinition
	names   []string
	vectors [][]float64
}

// MetricsRecorder receives cache hit/miss events. Satisfied by
// *internal/metrics.Collector without this package importing it.
type MetricsRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// Registry holds the current tool snapshot and knows how to (re)build it
// from an OpenAPI source.
type Registry struct {
	generator *openapi.Generator
	embedder  embedding.Provider
	kv        *kvstore.Store
	logger    *zap.Logger
	threshold float64
	metrics   MetricsRecorder

	current atomic.Pointer[snapshot]

	source       string
	lastETag     string
	lastModified string
	lastHash     string
}

// SetMetrics attaches a MetricsRecorder for tool/query embedding cache
// observability. Safe to call once after construction.
func (r *Registry) SetMetrics(m MetricsRecorder) {
	r.metrics = m
}

// New creates a Registry. threshold <= 0 falls back to DefaultThreshold.
func New(generator *openapi.Generator, embedder embedding.Provider, kv *kvstore.Store, logger *zap.Logger, threshold float64) *Registry {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	r := &Registry{
		generator: generator,
		embedder:  embedder,
		kv:        kv,
		logger:    logger.With(zap.String("component", "registry")),
		threshold: threshold,
	}
	r.current.Store(&snapshot{defs: map[string]*ToolDefinition{}})
	return r
}

// Size returns the number of tools in the current snapshot.
func (r *Registry) Size() int {
	return len(r.current.Load().names)
}

// Load fetches source (a URL or filesystem path), compiles every eligible
// operation into a ToolDefinition, and atomically swaps the snapshot in.
func (r *Registry) Load(ctx context.Context, source string) error {
	var data []byte
	var etag, lastModified string

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		d, e, lm, err := r.generator.FetchRemote(ctx, source)
		if err != nil {
			return fmt.Errorf("fetch openapi spec: %w", err)
		}
		data, etag, lastModified = d, e, lm
	} else {
		spec, err := r.generator.LoadSpec(ctx, source)
		if err != nil {
			return fmt.Errorf("load openapi spec: %w", err)
		}
		return r.buildFromSpec(ctx, spec)
	}

	spec, err := r.generator.ParseSpec(data)
	if err != nil {
		return err
	}
	if err := r.buildFromSpec(ctx, spec); err != nil {
		return err
	}

	r.source = source
	r.lastETag = etag
	r.lastModified = lastModified
	r.lastHash = hashBytes(data)
	return nil
}

func (r *Registry) buildFromSpec(ctx context.Context, spec *openapi.OpenAPISpec) error {
	tools, err := r.generator.GenerateTools(spec, openapi.GenerateOptions{})
	if err != nil {
		return fmt.Errorf("generate tools: %w", err)
	}

	defs := make(map[string]*ToolDefinition, len(tools))
	names := make([]string, 0, len(tools))
	vectors := make([][]float64, 0, len(tools))

	for _, tool := range tools {
		if !eligibleMethod(tool.Method) {
			continue
		}

		vec, err := r.embeddingFor(ctx, tool.Name, tool.Description)
		if err != nil {
			r.logger.Warn("failed to embed tool description, skipping tool",
				zap.String("operation_id", tool.Name), zap.Error(err))
			continue
		}

		def := &ToolDefinition{
			OperationID: tool.Name,
			Description: tool.Description,
			Method:      tool.Method,
			Path:        tool.Path,
			BaseURL:     tool.BaseURL,
			Schema:      tool.Schema,
			Parameters:  tool.Parameters,
			RequestBody: tool.RequestBody,
			Embedding:   vec,
		}
		defs[tool.Name] = def
		names = append(names, tool.Name)
		vectors = append(vectors, vec)
	}

	r.current.Store(&snapshot{defs: defs, names: names, vectors: vectors})
	r.logger.Info("tool registry snapshot swapped", zap.Int("tool_count", len(defs)))
	return nil
}

func eligibleMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "POST", "PUT", "DELETE":
		return true
	default:
		return false
	}
}

// embeddingFor resolves the description's embedding through the content-
// hash cache before calling the embedding provider.
func (r *Registry) embeddingFor(ctx context.Context, operationID, description string) ([]float64, error) {
	contentHash := hashBytes([]byte(description))
	cacheKey := fmt.Sprintf("%s%s:%s", embedCachePrefix, operationID, contentHash)

	if cached, err := r.kv.Get(ctx, cacheKey); err == nil {
		var vec []float64
		if jsonErr := json.Unmarshal([]byte(cached), &vec); jsonErr == nil {
			r.recordCache(true, "tool_embedding")
			return vec, nil
		}
	} else if !kvstore.IsNil(err) {
		r.logger.Warn("tool embedding cache lookup failed", zap.Error(err))
	}
	r.recordCache(false, "tool_embedding")

	vecs, err := r.embedder.EmbedDocuments(ctx, []string{description})
	if err != nil {
		return nil, fmt.Errorf("embed tool description: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding provider returned no vectors")
	}
	vec := normalizeL2(vecs[0])

	data, err := json.Marshal(vec)
	if err == nil {
		if err := r.kv.Set(ctx, cacheKey, string(data), 0); err != nil {
			r.logger.Warn("failed to cache tool embedding", zap.Error(err))
		}
	}
	return vec, nil
}

func (r *Registry) recordCache(hit bool, cacheType string) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.RecordCacheHit(cacheType)
	} else {
		r.metrics.RecordCacheMiss(cacheType)
	}
}

func normalizeL2(v []float64) []float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func hashBytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// toolResult pairs a tool name with its similarity score, for sorting.
type toolResult struct {
	name  string
	score float64
}

// FindRelevantTools embeds query, ranks the current snapshot's tools by
// cosine similarity, and returns the LLM schemas of the top matches that
// clear the relevance threshold.
func (r *Registry) FindRelevantTools(ctx context.Context, query string, topK int) ([]llm.ToolSchema, error) {
	if topK <= 0 {
		topK = 3
	}

	queryVec, err := r.embedQueryCached(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	snap := r.current.Load()
	results := make([]toolResult, 0, len(snap.names))
	for i, name := range snap.names {
		score := dot(queryVec, snap.vectors[i])
		if score < r.threshold {
			continue
		}
		results = append(results, toolResult{name: name, score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > topK {
		results = results[:topK]
	}

	schemas := make([]llm.ToolSchema, 0, len(results))
	for _, res := range results {
		schemas = append(schemas, snap.defs[res.name].Schema)
	}
	return schemas, nil
}

func (r *Registry) embedQueryCached(ctx context.Context, query string) ([]float64, error) {
	cacheKey := queryCachePrefix + hashBytes([]byte(query))

	if cached, err := r.kv.Get(ctx, cacheKey); err == nil {
		var vec []float64
		if jsonErr := json.Unmarshal([]byte(cached), &vec); jsonErr == nil {
			r.recordCache(true, "query_embedding")
			return vec, nil
		}
	} else if !kvstore.IsNil(err) {
		r.logger.Warn("query embedding cache lookup failed", zap.Error(err))
	}
	r.recordCache(false, "query_embedding")

	raw, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	vec := normalizeL2(raw)

	if data, err := json.Marshal(vec); err == nil {
		if err := r.kv.Set(ctx, cacheKey, string(data), queryCacheTTL); err != nil {
			r.logger.Warn("failed to cache query embedding", zap.Error(err))
		}
	}
	return vec, nil
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// Get returns a tool definition by operation id, for the gateway to dispatch
// an accepted tool call against.
func (r *Registry) Get(operationID string) (*ToolDefinition, bool) {
	snap := r.current.Load()
	def, ok := snap.defs[operationID]
	return def, ok
}
