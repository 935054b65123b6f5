package opensearch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/mstgnz/payflow/infra/logger"
)

// Config holds OpenSearch connection settings
type Config struct {
	URL      string
	Username string
	Password string
	// Insecure skips TLS verification, for development clusters only
	Insecure bool
	// IndexPrefix is prepended to every index name, default "payflow"
	IndexPrefix string
	Enabled     bool
}

// Client wraps the OpenSearch client
type Client struct {
	client *opensearch.Client
	config Config
	log    *logger.SystemLogger
}

// NewClient creates a new OpenSearch client and makes sure the payflow
// indices exist. Index setup failures are logged, not returned.
func NewClient(cfg Config, log *logger.SystemLogger) (*Client, error) {
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = "payflow"
	}
	if log == nil {
		log = logger.NewNop()
	}

	osConfig := opensearch.Config{
		Addresses: []string{cfg.URL},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Insecure},
		},
		MaxRetries:    3,
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			return time.Duration(i) * 100 * time.Millisecond
		},
	}
	if cfg.Username != "" && cfg.Password != "" {
		osConfig.Username = cfg.Username
		osConfig.Password = cfg.Password
	}

	client, err := opensearch.NewClient(osConfig)
	if err != nil {
		return nil, err
	}

	c := &Client{client: client, config: cfg, log: log}
	if cfg.Enabled {
		c.setupIndices(context.Background())
	}
	return c, nil
}

// GetClient returns the underlying OpenSearch client
func (c *Client) GetClient() *opensearch.Client {
	return c.client
}

// IsEnabled returns whether OpenSearch indexing is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// SystemLogIndex is where application logs go
func (c *Client) SystemLogIndex() string {
	return c.config.IndexPrefix + "-system-logs"
}

// EventIndex is where payment events are mirrored
func (c *Client) EventIndex() string {
	return c.config.IndexPrefix + "-payment-events"
}

func (c *Client) setupIndices(ctx context.Context) {
	indices := map[string]string{
		c.SystemLogIndex(): systemLogMapping,
		c.EventIndex():     eventMapping,
	}
	for name, mapping := range indices {
		exists, err := c.indexExists(ctx, name)
		if err != nil {
			c.log.Warn("Failed to check OpenSearch index", logger.LogContext{
				Fields: map[string]any{"index": name, "error": err.Error()},
			})
			continue
		}
		if exists {
			continue
		}
		if err := c.createIndex(ctx, name, mapping); err != nil {
			c.log.Warn("Failed to create OpenSearch index", logger.LogContext{
				Fields: map[string]any{"index": name, "error": err.Error()},
			})
			continue
		}
		c.log.Info("Created OpenSearch index", logger.LogContext{Fields: map[string]any{"index": name}})
	}
}

func (c *Client) indexExists(ctx context.Context, name string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{Index: []string{name}}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK, nil
}

func (c *Client) createIndex(ctx context.Context, name, mapping string) error {
	req := opensearchapi.IndicesCreateRequest{
		Index: name,
		Body:  strings.NewReader(mapping),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index creation error: %s", res.String())
	}
	return nil
}

const systemLogMapping = `{
	"mappings": {
		"properties": {
			"timestamp": {"type": "date", "format": "strict_date_optional_time||epoch_millis"},
			"level": {"type": "keyword"},
			"component": {"type": "keyword"},
			"message": {"type": "text"},
			"gateway": {"type": "keyword"},
			"payment_id": {"type": "keyword"},
			"request_id": {"type": "keyword"},
			"error": {"type": "text"},
			"fields": {"type": "object", "enabled": false}
		}
	},
	"settings": {"number_of_shards": 1, "number_of_replicas": 0}
}`

const eventMapping = `{
	"mappings": {
		"properties": {
			"timestamp": {"type": "date", "format": "strict_date_optional_time||epoch_millis"},
			"payment_id": {"type": "keyword"},
			"gateway": {"type": "keyword"},
			"status": {"type": "keyword"},
			"event_type": {"type": "keyword"},
			"source": {"type": "keyword"},
			"processor_txn_id": {"type": "keyword"},
			"message": {"type": "text"},
			"amount": {"type": "keyword"},
			"currency": {"type": "keyword"},
			"payload": {"type": "text"}
		}
	},
	"settings": {"number_of_shards": 1, "number_of_replicas": 0}
}`
