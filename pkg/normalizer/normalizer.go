// Package normalizer canonicalizes raw platform tags via a cached
// LLM-like cleaner, collapsing synonyms and dropping meaningless tags,
// matching spec.md §4.2.
package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"

	"github.com/kzmtkz/xppusher/pkg/store"
	"github.com/kzmtkz/xppusher/pkg/xperrors"
)

// Config configures the remote cleaner.
type Config struct {
	Endpoint   string
	APIKey     string
	Model      string
	BatchSize  int // max tags per request, default 40
	Concurrency int // max in-flight batches, default 4
}

// Normalizer canonicalizes raw tags, caching every verdict in Store so a
// raw tag is only ever sent to the remote cleaner once.
type Normalizer struct {
	cfg    Config
	client *openai.Client
	store  *store.Store
	sem    *semaphore.Weighted
}

// New builds a Normalizer. If cfg.Endpoint is set, requests are routed
// to that OpenAI-compatible base URL instead of the public API.
func New(cfg Config, st *store.Store) *Normalizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 40
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		oaiCfg.BaseURL = cfg.Endpoint
	}

	return &Normalizer{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oaiCfg),
		store:  st,
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Result is the outcome of normalizing one batch of raw tags.
type Result struct {
	// Clean holds the deduplicated, canonical tag list.
	Clean []string
	// RawToCanonical maps every raw tag that survived to its canonical
	// form, for BumpRawMapping stats.
	RawToCanonical map[string]string
}

// Normalize canonicalizes raw, consulting the cache first and only
// calling the remote cleaner for tags that have never been seen.
// Contract: idempotent w.r.t. cache; deterministic given cache state.
func (n *Normalizer) Normalize(ctx context.Context, raw []string) (Result, error) {
	cache, err := n.store.CleanCacheSnapshot(ctx)
	if err != nil {
		return Result{}, xperrors.NewStoreError("clean_cache_snapshot", err)
	}

	result := Result{RawToCanonical: map[string]string{}}
	seen := map[string]struct{}{}
	var uncached []string

	for _, tag := range raw {
		if cleaned, ok := cache[tag]; ok {
			if cleaned != nil {
				n.addClean(&result, seen, tag, *cleaned)
			}
			continue
		}
		uncached = append(uncached, tag)
	}

	if len(uncached) == 0 {
		return result, nil
	}

	cleanedBatches, err := n.cleanBatches(ctx, uncached)
	if err != nil {
		// CleanerError already logged by cleanBatches; fall back to
		// identity mapping so downstream never blocks, per spec.md §4.2.
		for _, tag := range uncached {
			n.addClean(&result, seen, tag, tag)
		}
		return result, nil
	}

	toCache := make(map[string]*string, len(cleanedBatches))
	for raw, cleaned := range cleanedBatches {
		cleanedCopy := cleaned
		if cleaned == "" {
			toCache[raw] = nil
			continue
		}
		toCache[raw] = &cleanedCopy
		n.addClean(&result, seen, raw, cleaned)
	}
	// tags the cleaner silently omitted are treated as filtered.
	for _, tag := range uncached {
		if _, ok := cleanedBatches[tag]; !ok {
			toCache[tag] = nil
		}
	}

	if err := n.store.UpsertCleanCache(ctx, toCache); err != nil {
		return Result{}, xperrors.NewStoreError("upsert_clean_cache", err)
	}
	if err := n.store.BumpRawMapping(ctx, result.RawToCanonical); err != nil {
		return Result{}, xperrors.NewStoreError("bump_raw_mapping", err)
	}

	return result, nil
}

func (n *Normalizer) addClean(r *Result, seen map[string]struct{}, raw, canonical string) {
	r.RawToCanonical[raw] = canonical
	if _, dup := seen[canonical]; dup {
		return
	}
	seen[canonical] = struct{}{}
	r.Clean = append(r.Clean, canonical)
}

// NormalizeCached canonicalizes tags using only the existing cache
// snapshot, without invoking the remote cleaner: a tag already cached as
// null is dropped, a tag cached to a canonical form is mapped to it, and
// an uncached tag falls back to its raw form. Used by the Filter to score
// candidates against the profile's canonical key space without paying a
// remote round trip per candidate.
func (n *Normalizer) NormalizeCached(ctx context.Context, raw []string) ([]string, error) {
	cache, err := n.store.CleanCacheSnapshot(ctx)
	if err != nil {
		return nil, xperrors.NewStoreError("clean_cache_snapshot", err)
	}

	seen := map[string]struct{}{}
	out := make([]string, 0, len(raw))
	for _, tag := range raw {
		canonical := tag
		if cleaned, ok := cache[tag]; ok {
			if cleaned == nil {
				continue
			}
			canonical = *cleaned
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	return out, nil
}

// cleanBatches splits uncached into batches of cfg.BatchSize and fans
// them out with bounded concurrency (cfg.Concurrency in-flight).
func (n *Normalizer) cleanBatches(ctx context.Context, uncached []string) (map[string]string, error) {
	type batchResult struct {
		batch   []string
		mapping map[string]string
		err     error
	}

	var batches [][]string
	for i := 0; i < len(uncached); i += n.cfg.BatchSize {
		end := i + n.cfg.BatchSize
		if end > len(uncached) {
			end = len(uncached)
		}
		batches = append(batches, uncached[i:end])
	}

	results := make(chan batchResult, len(batches))
	for _, batch := range batches {
		batch := batch
		if err := n.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		go func() {
			defer n.sem.Release(1)
			mapping, err := n.cleanOneBatch(ctx, batch)
			results <- batchResult{batch: batch, mapping: mapping, err: err}
		}()
	}

	merged := make(map[string]string)
	var firstErr error
	var failed []string
	for range batches {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			failed = append(failed, r.batch...)
			continue
		}
		for k, v := range r.mapping {
			merged[k] = v
		}
	}
	if firstErr != nil && len(merged) == 0 {
		return nil, firstErr
	}
	// a failed batch falls back to identity mapping rather than being
	// treated as filtered by the caller.
	for _, tag := range failed {
		merged[tag] = tag
	}
	return merged, nil
}

// cleanOneBatch sends one batch to the remote cleaner. On failure it logs
// to CleanerErrorLog and returns the error; the caller falls back to
// identity mapping.
func (n *Normalizer) cleanOneBatch(ctx context.Context, batch []string) (map[string]string, error) {
	prompt := buildPrompt(batch)

	resp, err := n.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: n.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: cleanerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		n.logCleanerError(batch, err)
		return nil, xperrors.NewCleanerError(batch, err)
	}
	if len(resp.Choices) == 0 {
		cerr := fmt.Errorf("empty completion")
		n.logCleanerError(batch, cerr)
		return nil, xperrors.NewCleanerError(batch, cerr)
	}

	var mapping map[string]string
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &mapping); err != nil {
		n.logCleanerError(batch, err)
		return nil, xperrors.NewCleanerError(batch, err)
	}
	return mapping, nil
}

func (n *Normalizer) logCleanerError(batch []string, err error) {
	if _, logErr := n.store.LogCleanerError(context.Background(), batch, err.Error()); logErr != nil {
		slog.Error("failed to log cleaner error", "error", logErr)
	}
}

// RetryBatch re-invokes the cleaner for a previously logged batch
// (the "retry_ai:<errorId>" admin action), flipping status to resolved
// on success.
func (n *Normalizer) RetryBatch(ctx context.Context, errorID uint, tags []string) error {
	mapping, err := n.cleanOneBatch(ctx, tags)
	if err != nil {
		return err
	}
	toCache := make(map[string]*string, len(mapping))
	for raw, cleaned := range mapping {
		cleanedCopy := cleaned
		toCache[raw] = &cleanedCopy
	}
	if err := n.store.UpsertCleanCache(ctx, toCache); err != nil {
		return xperrors.NewStoreError("upsert_clean_cache", err)
	}
	return n.store.ResolveCleanerError(ctx, errorID)
}

const cleanerSystemPrompt = `You canonicalize illustration tags. For each input tag: ` +
	`translate it to English, collapse plurals and known synonyms, and decide ` +
	`whether it carries meaningful visual/thematic information. Respond with a ` +
	`single JSON object mapping each input tag to its canonical form as a string, ` +
	`or omit the key entirely if the tag is meaningless or purely administrative.`

func buildPrompt(tags []string) string {
	encoded, _ := json.Marshal(tags)
	return "Tags: " + string(encoded)
}
