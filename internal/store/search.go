package store

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

// SearchHit is one run matching a history query.
type SearchHit struct {
	RunID  string
	Score  float64
	Prompt string
	Status string
}

// SearchIndex provides keyword search over prompts, generated code and errors.
type SearchIndex struct {
	index bleve.Index
	path  string
}

// NewSearchIndex creates or opens the index at path. An empty path keeps the
// index in memory. A corrupted index is deleted and recreated.
func NewSearchIndex(path string) (*SearchIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory search index: %w", err)
		}
		return &SearchIndex{index: index}, nil
	}

	index, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create search index: %w", err)
		}
	} else if err != nil {
		slog.Warn("search index appears corrupted, recreating", "path", path, "error", err)
		if index != nil {
			index.Close()
		}
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("failed to remove corrupted search index: %w", err)
		}
		index, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate search index: %w", err)
		}
	}

	return &SearchIndex{index: index, path: path}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	runMapping := bleve.NewDocumentMapping()

	text := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = standard.Name
		f.Store = true
		return f
	}
	kw := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		return f
	}

	runMapping.AddFieldMappingsAt("prompt", text())
	runMapping.AddFieldMappingsAt("code", text())
	runMapping.AddFieldMappingsAt("errors", text())
	runMapping.AddFieldMappingsAt("status", kw())

	indexMapping.DefaultMapping = runMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Index adds or replaces the document for a run.
func (s *SearchIndex) Index(st *engine.RunState) error {
	var code, errs []string
	for _, a := range st.Attempts {
		if a.Code != "" {
			code = append(code, a.Code)
		}
		if a.Outcome != nil && !a.Outcome.Succeeded() {
			errs = append(errs, a.Outcome.Summary())
		}
	}
	if st.Error != "" {
		errs = append(errs, st.Error)
	}

	doc := map[string]interface{}{
		"prompt": st.Prompt,
		"code":   strings.Join(code, "\n"),
		"errors": strings.Join(errs, "\n"),
		"status": string(st.Status),
	}
	return s.index.Index(st.ID, doc)
}

// Delete removes a run from the index.
func (s *SearchIndex) Delete(id string) error {
	return s.index.Delete(id)
}

// Search returns the top k runs matching query, optionally restricted to a status.
func (s *SearchIndex) Search(query, status string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	q := bleve.NewMatchQuery(query)

	var req *bleve.SearchRequest
	if status != "" {
		statusQuery := bleve.NewTermQuery(status)
		statusQuery.SetField("status")
		req = bleve.NewSearchRequest(bleve.NewConjunctionQuery(q, statusQuery))
	} else {
		req = bleve.NewSearchRequest(q)
	}
	req.Size = k
	req.Fields = []string{"prompt", "status"}

	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("history search failed: %w", err)
	}

	hits := make([]SearchHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := SearchHit{RunID: h.ID, Score: h.Score}
		if p, ok := h.Fields["prompt"].(string); ok {
			hit.Prompt = p
		}
		if st, ok := h.Fields["status"].(string); ok {
			hit.Status = st
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of indexed runs.
func (s *SearchIndex) Count() (uint64, error) {
	return s.index.DocCount()
}

// Close closes the index.
func (s *SearchIndex) Close() error {
	return s.index.Close()
}
