// Package export ships analysis summaries to an external webhook in batches.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/omnipass/internal/model"
)

// Summary is the exported record of one analysis
type Summary struct {
	Address              model.Address `json:"address"`
	TotalValueLockedUSD  float64       `json:"totalValueLocked"`
	RiskScore            int           `json:"riskScore"`
	ActivityScore        int           `json:"activityScore"`
	DiversificationScore int           `json:"diversificationScore"`
	Tier                 model.Tier    `json:"tier"`
	Qualifies            bool          `json:"qualifiesForAccess"`
	ActiveChains         int           `json:"activeChains"`
	AnalyzedAt           time.Time     `json:"analyzedAt"`
}

// SummaryOf extracts the exported fields of an analysis
func SummaryOf(r *model.AnalysisResult) Summary {
	return Summary{
		Address:              r.Address,
		TotalValueLockedUSD:  r.TotalValueLockedUSD,
		RiskScore:            r.RiskScore,
		ActivityScore:        r.ActivityScore,
		DiversificationScore: r.DiversificationScore,
		Tier:                 r.AccessLevel.Tier,
		Qualifies:            r.AccessLevel.Qualifies,
		ActiveChains:         r.ActiveChains(),
		AnalyzedAt:           r.AnalyzedAt,
	}
}

// Config holds configuration for the webhook exporter
type Config struct {
	WebhookURL    string
	WebhookAPIKey string
	BatchSize     int
	Interval      time.Duration
	RetryMax      int
}

// Exporter batches summaries and POSTs them as {metrics, export_time, count}
// when the batch fills up or the interval elapses
type Exporter struct {
	config     Config
	httpClient *retryablehttp.Client

	mutex      sync.Mutex
	batch      []Summary
	lastExport time.Time
	exported   int

	flushMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewExporter creates an exporter and starts its periodic flush. It returns nil
// when no webhook URL is configured; a nil *Exporter accepts and drops records.
func NewExporter(config Config) *Exporter {
	if config.WebhookURL == "" {
		return nil
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}

	client := retryablehttp.NewClient()
	client.RetryMax = config.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	ctx, cancel := context.WithCancel(context.Background())
	e := &Exporter{
		config:     config,
		httpClient: client,
		batch:      make([]Summary, 0, config.BatchSize),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go e.periodicExport(ctx)

	logrus.WithFields(logrus.Fields{
		"batch_size": config.BatchSize,
		"interval":   config.Interval.String(),
	}).Info("Summary exporter initialized")
	return e
}

// Add queues a summary, flushing in the background once the batch is full
func (e *Exporter) Add(s Summary) {
	if e == nil {
		return
	}

	e.mutex.Lock()
	e.batch = append(e.batch, s)
	full := len(e.batch) >= e.config.BatchSize
	e.mutex.Unlock()

	if full {
		go e.flush(context.Background())
	}
}

func (e *Exporter) periodicExport(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// flush sends the queued batch. Flushes are serialised so batches arrive in order.
func (e *Exporter) flush(ctx context.Context) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mutex.Lock()
	if len(e.batch) == 0 {
		e.mutex.Unlock()
		return
	}
	batch := e.batch
	e.batch = make([]Summary, 0, e.config.BatchSize)
	e.mutex.Unlock()

	if err := e.send(ctx, batch); err != nil {
		logrus.WithError(err).WithField("count", len(batch)).Error("Failed to export summaries")
		return
	}

	e.mutex.Lock()
	e.lastExport = time.Now()
	e.exported += len(batch)
	e.mutex.Unlock()
	logrus.Debugf("Exported %d summaries", len(batch))
}

func (e *Exporter) send(ctx context.Context, batch []Summary) error {
	payload := struct {
		Metrics    []Summary `json:"metrics"`
		ExportTime string    `json:"export_time"`
		Count      int       `json:"count"`
	}{
		Metrics:    batch,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(batch),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal summaries: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.config.WebhookURL, body)
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.WebhookAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.WebhookAPIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// Stop ends the periodic flush and exports whatever is still queued
func (e *Exporter) Stop(ctx context.Context) {
	if e == nil {
		return
	}
	e.cancel()
	<-e.done
	e.flush(ctx)
}

// Status reports the exporter state for the health endpoint
func (e *Exporter) Status() map[string]interface{} {
	if e == nil {
		return map[string]interface{}{"enabled": false}
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	status := map[string]interface{}{
		"enabled":         true,
		"batch_size":      e.config.BatchSize,
		"export_interval": e.config.Interval.String(),
		"current_batch":   len(e.batch),
		"exported":        e.exported,
	}
	if !e.lastExport.IsZero() {
		status["last_export"] = e.lastExport.Format(time.RFC3339)
	}
	return status
}
