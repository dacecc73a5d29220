package casearchive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/fadedpez/cantina/pkg/entities"
)

// ElasticsearchConfig holds configuration options for the Elasticsearch archive
type ElasticsearchConfig struct {
	URL         string
	Username    string
	Password    string
	IndexPrefix string
}

// DefaultElasticsearchConfig returns a default configuration for Elasticsearch
func DefaultElasticsearchConfig() *ElasticsearchConfig {
	return &ElasticsearchConfig{
		URL:         "http://localhost:9200",
		IndexPrefix: "cantina",
	}
}

// ElasticsearchRepository implements Repository using Elasticsearch
type ElasticsearchRepository struct {
	client *elasticsearch.Client
	index  string
}

const caseMapping = `{
	"mappings": {
		"properties": {
			"guild_id": { "type": "keyword" },
			"subject_id": { "type": "keyword" },
			"category": { "type": "keyword" },
			"case_number": { "type": "integer" },
			"reason": { "type": "text" },
			"actor_id": { "type": "keyword" },
			"timestamp": { "type": "date", "format": "epoch_second" }
		}
	}
}`

// NewElasticsearchRepository creates the client and makes sure the case index exists
func NewElasticsearchRepository(ctx context.Context, config *ElasticsearchConfig) (*ElasticsearchRepository, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{config.URL},
	}

	// Add authentication if provided
	if config.Username != "" && config.Password != "" {
		cfg.Username = config.Username
		cfg.Password = config.Password
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Elasticsearch client: %w", err)
	}

	prefix := config.IndexPrefix
	if prefix == "" {
		prefix = "cantina"
	}

	repo := &ElasticsearchRepository{
		client: client,
		index:  prefix + "_cases",
	}
	if err := repo.initIndex(ctx); err != nil {
		return nil, fmt.Errorf("error initializing case index: %w", err)
	}
	return repo, nil
}

// initIndex creates the case index if it doesn't exist
func (r *ElasticsearchRepository) initIndex(ctx context.Context) error {
	res, err := r.client.Indices.Exists([]string{r.index}, r.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error checking if case index exists: %w", err)
	}
	res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		return nil
	}

	req := esapi.IndicesCreateRequest{
		Index: r.index,
		Body:  bytes.NewReader([]byte(caseMapping)),
	}
	res, err = req.Do(ctx, r.client)
	if err != nil {
		return fmt.Errorf("error creating case index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error creating case index: %s", res.String())
	}
	return nil
}

// Index returns the name of the case index
func (r *ElasticsearchRepository) Index() string {
	return r.index
}

// IndexCase implements Repository
func (r *ElasticsearchRepository) IndexCase(ctx context.Context, entry *entities.CaseEntry) error {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("error marshaling case: %w", err)
	}

	res, err := r.client.Index(
		r.index,
		bytes.NewReader(jsonData),
		r.client.Index.WithContext(ctx),
		r.client.Index.WithDocumentID(DocumentID(entry.GuildID, entry.SubjectID, entry.Category, entry.CaseNumber)),
	)
	if err != nil {
		return fmt.Errorf("error indexing case: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing case: %s", res.String())
	}
	return nil
}

// DeleteCase implements Repository
func (r *ElasticsearchRepository) DeleteCase(ctx context.Context, guildID, subjectID string, category entities.CaseCategory, caseNumber int) error {
	res, err := r.client.Delete(
		r.index,
		DocumentID(guildID, subjectID, category, caseNumber),
		r.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error deleting case: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("error deleting case: %s", res.String())
	}
	return nil
}

// SearchCases implements Repository
func (r *ElasticsearchRepository) SearchCases(ctx context.Context, guildID, subjectID string, limit int) ([]*entities.CaseEntry, error) {
	if limit <= 0 {
		limit = 25
	}

	must := []map[string]any{
		{"term": map[string]any{"subject_id": subjectID}},
	}
	if guildID != "" {
		must = append(must, map[string]any{"term": map[string]any{"guild_id": guildID}})
	}
	query, err := json.Marshal(map[string]any{
		"query": map[string]any{"bool": map[string]any{"must": must}},
		"sort":  []map[string]any{{"timestamp": map[string]any{"order": "desc"}}},
	})
	if err != nil {
		return nil, fmt.Errorf("error building case query: %w", err)
	}

	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(r.index),
		r.client.Search.WithBody(bytes.NewReader(query)),
		r.client.Search.WithSize(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("error searching cases: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("error searching cases: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source entities.CaseEntry `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("error parsing case results: %w", err)
	}

	cases := make([]*entities.CaseEntry, 0, len(result.Hits.Hits))
	for i := range result.Hits.Hits {
		cases = append(cases, &result.Hits.Hits[i].Source)
	}
	return cases, nil
}

// Close implements Repository
func (r *ElasticsearchRepository) Close() error {
	return nil
}
