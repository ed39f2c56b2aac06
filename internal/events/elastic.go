package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v9"
)

type ElasticConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

// ElasticAudit indexes every event as one document, giving an audit trail
// of logins and revocations.
type ElasticAudit struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticAudit(cfg ElasticConfig) (*ElasticAudit, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: create client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch: info: %s: %s", res.Status(), body)
	}

	return &ElasticAudit{client: client, index: cfg.Index}, nil
}

func (a *ElasticAudit) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("elasticsearch: marshal event: %w", err)
	}
	res, err := a.client.Index(a.index, bytes.NewReader(data), a.client.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch: index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch: index %s: %s", a.index, res.Status())
	}
	return nil
}

func (a *ElasticAudit) Close() error { return nil }
