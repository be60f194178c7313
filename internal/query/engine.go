package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/cache"
	"github.com/plantsage/backend/internal/metrics"
	"github.com/plantsage/backend/internal/retrieval"
	"github.com/plantsage/backend/internal/storage/models"
	"github.com/plantsage/backend/internal/synthesis"
	"github.com/plantsage/backend/internal/vector"
	"github.com/plantsage/backend/pkg/logger"
	"github.com/plantsage/backend/pkg/utils"
)

var ErrEmptyQuery = errors.New("query is required")

var (
	documentContent  = []vector.ContentType{vector.ContentDocument}
	narrativeContent = []vector.ContentType{vector.ContentTimeSeries, vector.ContentAnnotation, vector.ContentRule}
)

type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, in synthesis.Input) (*synthesis.Answer, error)
}

// HistoryStore persists answered queries. The sqlite client satisfies it.
type HistoryStore interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
}

type Engine struct {
	retriever   Retriever
	synthesizer Synthesizer
	history     HistoryStore
	cache       cache.Cache
	cacheTTL    time.Duration
	memory      *Memory

	// generation advances on every invalidation. A response whose request
	// started in an older generation is not cached.
	cacheMu    sync.RWMutex
	generation uint64

	logger      *zap.Logger
}

type Option func(*Engine)

func WithHistoryStore(h HistoryStore) Option { return func(e *Engine) { e.history = h } }

// WithCache enables the response cache.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

func WithMemory(m *Memory) Option { return func(e *Engine) { e.memory = m } }

func NewEngine(r Retriever, s Synthesizer, opts ...Option) *Engine {
	e := &Engine{
		retriever:   r,
		synthesizer: s,
		logger:      logger.Named("query"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type Request struct {
	Query  string
	UserID string
	Mode   synthesis.Mode
	Scope  *retrieval.Scope
	// History is caller-supplied conversation text used verbatim.
	History string
	// UseMemory appends the stored conversation for this user and plant.
	UseMemory bool
}

type Response struct {
	ID        string            `json:"id"`
	Query     string            `json:"query"`
	Mode      synthesis.Mode    `json:"grounding_mode"`
	Answer    *synthesis.Answer `json:"answer"`
	Evidence  []vector.Match    `json:"evidence"`
	Tags      []string          `json:"tags,omitempty"`
	Cached    bool              `json:"cached"`
	LatencyMS int               `json:"latency_ms"`
}

// Ask answers one question: retrieve evidence for the mode, synthesize, then
// record the outcome. An unsupported mode is rejected before any retrieval.
func (e *Engine) Ask(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: %d", synthesis.ErrUnsupportedMode, int(req.Mode))
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	mode := req.Mode.String()

	e.logger.Info("Processing query",
		zap.String("user_id", req.UserID),
		zap.String("grounding_mode", mode),
		zap.String("query", query),
	)

	history := req.History
	var memKey string
	if req.UseMemory && e.memory != nil {
		memKey = memoryKey(req.UserID, req.Scope)
		history += e.memory.History(memKey)
	}

	cacheable := e.cache != nil && strings.TrimSpace(history) == ""
	key := cacheKey(req.UserID, mode, query, req.Scope)
	gen := e.cacheGeneration()
	if cacheable {
		var cached Response
		ok, err := cache.GetJSON(ctx, e.cache, key, &cached)
		if err != nil {
			e.logger.Warn("Query cache read failed", zap.Error(err))
		}
		if ok {
			metrics.CacheHits.WithLabelValues("query").Inc()
			cached.ID = uuid.NewString()
			cached.Cached = true
			cached.LatencyMS = int(time.Since(start).Milliseconds())
			e.record(ctx, req.UserID, &cached)
			metrics.QueryTotal.WithLabelValues(mode, "cached").Inc()
			return &cached, nil
		}
		metrics.CacheMisses.WithLabelValues("query").Inc()
	}

	types := documentContent
	if req.Mode == synthesis.ModeNarrative {
		types = narrativeContent
	}

	result, err := e.retriever.Retrieve(ctx, retrieval.Request{
		Query:        query,
		Scope:        req.Scope,
		ContentTypes: types,
		UserID:       req.UserID,
	})
	if err != nil {
		metrics.QueryTotal.WithLabelValues(mode, "retrieval_error").Inc()
		return nil, err
	}

	answer, err := e.synthesizer.Synthesize(ctx, synthesis.Input{
		Mode:     req.Mode,
		Question: query,
		Evidence: result.Matches,
		Scope:    req.Scope,
		History:  history,
	})
	if err != nil {
		metrics.QueryTotal.WithLabelValues(mode, "synthesis_error").Inc()
		return nil, err
	}

	resp := &Response{
		ID:        uuid.NewString(),
		Query:     query,
		Mode:      req.Mode,
		Answer:    answer,
		Evidence:  result.Matches,
		Tags:      result.Tags,
		LatencyMS: int(time.Since(start).Milliseconds()),
	}

	if memKey != "" {
		e.memory.Append(memKey, query, answer.Text)
	}
	if cacheable && !answer.Fallback {
		e.storeResponse(ctx, key, gen, resp)
	}
	e.record(ctx, req.UserID, resp)

	status := "success"
	if answer.Fallback {
		status = "fallback"
	}
	metrics.QueryTotal.WithLabelValues(mode, status).Inc()
	metrics.QueryDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())

	e.logger.Info("Query processed",
		zap.String("query_id", resp.ID),
		zap.Int("evidence", len(resp.Evidence)),
		zap.Strings("cited", answer.CitedChunkIDs),
		zap.Int("latency_ms", resp.LatencyMS),
	)
	return resp, nil
}

// InvalidateCache drops every cached response. It runs after feedback
// demotes chunks so no cached answer keeps citing them.
func (e *Engine) InvalidateCache(ctx context.Context, demoted []string) {
	if e.cache == nil {
		return
	}
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.generation++
	if err := e.cache.DeletePrefix(ctx, cache.PrefixQuery); err != nil {
		e.logger.Warn("Query cache invalidation failed", zap.Strings("chunk_ids", demoted), zap.Error(err))
	}
}

func (e *Engine) cacheGeneration() uint64 {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	return e.generation
}

// storeResponse caches resp unless an invalidation ran since gen was read.
func (e *Engine) storeResponse(ctx context.Context, key string, gen uint64, resp *Response) {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	if e.generation != gen {
		e.logger.Debug("Skipping cache write after invalidation", zap.String("query_id", resp.ID))
		return
	}
	if err := cache.SetJSON(ctx, e.cache, key, resp, e.cacheTTL); err != nil {
		e.logger.Warn("Query cache write failed", zap.Error(err))
	}
}

func (e *Engine) record(ctx context.Context, userID string, resp *Response) {
	if e.history == nil {
		return
	}
	err := e.history.InsertQueryRecord(ctx, &models.QueryRecord{
		ID:               resp.ID,
		UserID:           userID,
		QueryText:        resp.Query,
		GroundingMode:    resp.Mode.String(),
		Answer:           resp.Answer.Text,
		GroundingPercent: resp.Answer.GroundingPercent,
		UsedExternal:     bool(resp.Answer.UsedExternal),
		Fallback:         resp.Answer.Fallback,
		CitedChunkIDs:    resp.Answer.CitedChunkIDs,
		EvidenceCount:    len(resp.Evidence),
		LatencyMS:        resp.LatencyMS,
		CreatedAt:        time.Now(),
	})
	if err != nil {
		e.logger.Warn("Failed to record query", zap.String("query_id", resp.ID), zap.Error(err))
	}
}

func cacheKey(userID, mode, query string, scope *retrieval.Scope) string {
	return cache.PrefixQuery + utils.HashString(userID, mode, strings.ToLower(query), scope.Serialize())
}

func memoryKey(userID string, s *retrieval.Scope) string {
	if s == nil {
		return MemoryKey(userID, "", "")
	}
	return MemoryKey(userID, s.Industry, s.PlantName)
}
