// Package search implements hybrid BM25 + embedding discovery over a tool
// registry catalog, plus progressive browsing for planners that want to
// page through the catalog without semantic ranking.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goplan/orchestrator/registry"
	"github.com/goplan/orchestrator/telemetry"
)

type (
	// Result is a single scored tool match.
	Result struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}

	// Config tunes the hybrid scoring algorithm. The zero value is invalid;
	// use DefaultConfig.
	Config struct {
		// WeightBM25 and WeightSemantic must sum to 1.0.
		WeightBM25     float64
		WeightSemantic float64
		// MinThreshold discards results scoring below it after blending.
		MinThreshold float64
		// SmartRoutingThreshold bypasses scoring entirely when the catalog
		// has fewer definitions than this, returning everything at score 1.0.
		SmartRoutingThreshold int
		// ResultCacheTTL is how long a (query, catalog) search result is cached.
		ResultCacheTTL time.Duration
		// EmbeddingCacheSize and ResultCacheSize bound the in-process LRUs.
		EmbeddingCacheSize int
		ResultCacheSize    int
	}

	// Searcher performs hybrid discovery over a registry's catalog.
	Searcher struct {
		cfg      Config
		embedder Embedder
		embed    *embeddingCache
		results  *resultCache
		logger   telemetry.Logger
	}

	// Option configures a Searcher.
	Option func(*Searcher)
)

// DefaultConfig returns the hybrid search defaults: 0.3/0.7 lexical/semantic
// weighting, a 0.3 minimum threshold, and a 20-tool smart-routing bypass.
func DefaultConfig() Config {
	return Config{
		WeightBM25:            0.3,
		WeightSemantic:        0.7,
		MinThreshold:          0.3,
		SmartRoutingThreshold: 20,
		ResultCacheTTL:        time.Hour,
		EmbeddingCacheSize:    4096,
		ResultCacheSize:       1024,
	}
}

// WithEmbedder sets the embedding backend. When unset, searches degrade to
// BM25-only scoring.
func WithEmbedder(e Embedder) Option { return func(s *Searcher) { s.embedder = e } }

// WithLogger sets the searcher's logger, used to warn on embedding fallback.
func WithLogger(l telemetry.Logger) Option { return func(s *Searcher) { s.logger = l } }

// WithResultCacheOptions forwards options (e.g. WithRedis) to the result cache.
func WithResultCacheOptions(opts ...ResultCacheOption) Option {
	return func(s *Searcher) { s.results = newResultCache(s.cfg.ResultCacheTTL, s.cfg.ResultCacheSize, opts...) }
}

// New constructs a Searcher. Pass a zero Config to use DefaultConfig.
func New(cfg Config, opts ...Option) *Searcher {
	if cfg.WeightBM25 == 0 && cfg.WeightSemantic == 0 {
		cfg = DefaultConfig()
	}
	s := &Searcher{cfg: cfg, logger: telemetry.NewNoopLogger()}
	s.embed = newEmbeddingCache(cfg.EmbeddingCacheSize)
	s.results = newResultCache(cfg.ResultCacheTTL, cfg.ResultCacheSize)
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// corpusText concatenates a tool definition's name, description, and
// parameter descriptions into the bag of terms BM25 indexes.
func corpusText(def *registry.ToolDefinition) string {
	var b strings.Builder
	b.WriteString(def.Name)
	b.WriteString(" ")
	b.WriteString(def.Description)
	for _, p := range def.Parameters {
		b.WriteString(" ")
		b.WriteString(p.Name)
		b.WriteString(" ")
		b.WriteString(p.Description)
	}
	return b.String()
}

func catalogHash(catalog []*registry.ToolDefinition) string {
	var b strings.Builder
	for _, d := range catalog {
		b.WriteString(d.Name)
		b.WriteString(":")
		b.WriteString(d.ContentHash)
		b.WriteString(";")
	}
	return queryHash(b.String())
}

// Search returns the top-k tools from catalog most relevant to query,
// blending BM25 and embedding similarity per Config. When the catalog is
// smaller than SmartRoutingThreshold, every tool is returned at score 1.0
// without scoring overhead.
func (s *Searcher) Search(ctx context.Context, query string, catalog []*registry.ToolDefinition, topK int) ([]Result, error) {
	if len(catalog) < s.cfg.SmartRoutingThreshold {
		out := make([]Result, 0, len(catalog))
		for _, d := range catalog {
			out = append(out, Result{Name: d.Name, Score: 1.0})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out, nil
	}

	cacheKey := resultCacheKey(queryHash(query), catalogHash(catalog), topK)
	if cached, ok := s.results.get(ctx, cacheKey); ok {
		return cached, nil
	}

	corpus := make(map[string]string, len(catalog))
	byName := make(map[string]*registry.ToolDefinition, len(catalog))
	for _, d := range catalog {
		corpus[d.Name] = corpusText(d)
		byName[d.Name] = d
	}
	bm25 := buildBM25Index(corpus)
	bm25Scores := normalizeMax(bm25.score(query))

	semScores, usedEmbeddings := s.scoreSemantic(ctx, query, catalog)

	var blended map[string]float64
	if usedEmbeddings {
		blended = make(map[string]float64, len(byName))
		for name := range byName {
			blended[name] = s.cfg.WeightBM25*bm25Scores[name] + s.cfg.WeightSemantic*semScores[name]
		}
	} else {
		s.logger.Warn(ctx, "semantic search: embedding backend unavailable, falling back to BM25-only scoring")
		blended = bm25Scores
	}

	results := make([]Result, 0, len(blended))
	for name, score := range blended {
		if score < s.cfg.MinThreshold {
			continue
		}
		results = append(results, Result{Name: name, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Name < results[j].Name
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	s.results.set(ctx, cacheKey, results)
	return results, nil
}

// scoreSemantic computes cosine-similarity scores between the query
// embedding and every tool's pre-computed embedding. It returns
// usedEmbeddings=false (triggering BM25-only fallback) when no embedder is
// configured or the query embedding call fails.
func (s *Searcher) scoreSemantic(ctx context.Context, query string, catalog []*registry.ToolDefinition) (map[string]float64, bool) {
	if s.embedder == nil {
		return nil, false
	}
	queryVec, err := s.embed.getOrEmbed(ctx, s.embedder, query)
	if err != nil {
		return nil, false
	}
	scores := make(map[string]float64, len(catalog))
	for _, d := range catalog {
		toolVec, err := s.embed.getOrEmbed(ctx, s.embedder, corpusText(d))
		if err != nil {
			continue
		}
		scores[d.Name] = shiftCosine(cosineSimilarity(queryVec, toolVec))
	}
	return scores, true
}

// DetailLevel controls how much of a tool definition Browse projects.
type DetailLevel string

const (
	DetailSummary DetailLevel = "summary"
	DetailFull    DetailLevel = "full"
)

// BrowsePage is a page of the catalog, unranked, for progressive loading.
type BrowsePage struct {
	Tools      []registry.PlannerTool `json:"tools"`
	Offset     int                    `json:"offset"`
	Limit      int                    `json:"limit"`
	Total      int                    `json:"total"`
	HasMore    bool                   `json:"has_more"`
}

// Browse pages through catalog without semantic ranking, projecting each
// tool to a lightweight form at DetailSummary to reduce downstream token
// cost, or the full planner format at DetailFull.
func Browse(catalog []*registry.ToolDefinition, offset, limit int, detail DetailLevel) (BrowsePage, error) {
	if offset < 0 || limit <= 0 {
		return BrowsePage{}, fmt.Errorf("search: offset must be >= 0 and limit > 0")
	}
	sorted := make([]*registry.ToolDefinition, len(catalog))
	copy(sorted, catalog)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	total := len(sorted)
	if offset >= total {
		return BrowsePage{Offset: offset, Limit: limit, Total: total}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := sorted[offset:end]

	tools := make([]registry.PlannerTool, 0, len(page))
	for _, d := range page {
		pt := registry.PlannerTool{Name: d.Name, Tags: d.Tags}
		if detail == DetailFull {
			pt.Description = d.Description
			pt.Parameters = d.Parameters
		} else {
			pt.Description = truncate(d.Description, 120)
		}
		tools = append(tools, pt)
	}
	return BrowsePage{Tools: tools, Offset: offset, Limit: limit, Total: total, HasMore: end < total}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
