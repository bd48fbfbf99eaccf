// Package search mirrors classified postings into Elasticsearch for the
// dashboard search box.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

type Indexer interface {
	IndexPosting(ctx context.Context, app *models.JobApplication) error
}

// Document is the indexed shape of a posting.
type Document struct {
	ApplicationID  string    `json:"application_id"`
	Status         string    `json:"status"`
	Title          string    `json:"title"`
	Company        string    `json:"company"`
	Description    string    `json:"description"`
	RequiredSkills []string  `json:"required_skills"`
	Location       string    `json:"location"`
	Salary         string    `json:"salary,omitempty"`
	EmploymentType string    `json:"employment_type,omitempty"`
	Language       string    `json:"language"`
	MatchScore     *int      `json:"match_score,omitempty"`
	IndexedAt      time.Time `json:"indexed_at"`
}

func NewDocument(app *models.JobApplication) Document {
	return Document{
		ApplicationID:  app.ID,
		Status:         string(app.Status),
		Title:          app.Title,
		Company:        app.Company,
		Description:    app.Description,
		RequiredSkills: app.RequiredSkills,
		Location:       app.Location,
		Salary:         app.Salary,
		EmploymentType: app.EmploymentType,
		Language:       app.Language,
		MatchScore:     app.MatchScore,
		IndexedAt:      time.Now().UTC(),
	}
}

type ESIndexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewESIndexer(client *elasticsearch.Client, index string, log logger.Logger) *ESIndexer {
	return &ESIndexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "search", "index": index}),
	}
}

// IndexPosting upserts the posting under its application id.
func (i *ESIndexer) IndexPosting(ctx context.Context, app *models.JobApplication) error {
	body, err := json.Marshal(NewDocument(app))
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: app.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("index request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("index %s: %s: %s", app.ID, res.Status(), msg)
	}

	i.logger.Debug("posting indexed", map[string]interface{}{"applicationId": app.ID})
	return nil
}

// Noop is used when no Elasticsearch addresses are configured.
type Noop struct{}

func (Noop) IndexPosting(context.Context, *models.JobApplication) error { return nil }
