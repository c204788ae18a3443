package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/cssprobe/models"
	"github.com/use-agent/cssprobe/webhook"
)

// JobStore holds in-flight and finished async audits.
type JobStore struct {
	jobs sync.Map // id (string) -> *models.AuditJob
	ttl  time.Duration
	done chan struct{}
}

// NewJobStore creates a store and starts a background goroutine that drops
// jobs older than ttl every 5 minutes.
func NewJobStore(ttl time.Duration) *JobStore {
	s := &JobStore{ttl: ttl, done: make(chan struct{})}
	go s.cleanupLoop()
	return s
}

// Get returns the job with the given id.
func (s *JobStore) Get(id string) (*models.AuditJob, bool) {
	v, ok := s.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*models.AuditJob), true
}

func (s *JobStore) put(job *models.AuditJob) {
	s.jobs.Store(job.ID, job)
}

// Stop terminates the cleanup goroutine.
func (s *JobStore) Stop() {
	close(s.done)
}

func (s *JobStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.ttl).Unix()
			s.jobs.Range(func(key, value any) bool {
				if value.(*models.AuditJob).CreatedAt < cutoff {
					s.jobs.Delete(key)
				}
				return true
			})
		}
	}
}

// PostJob returns a handler for POST /api/v1/audit/jobs.
// The audit runs in the background; completion is reported via webhook when
// webhook_url is set.
func PostJob(a Auditor, store *JobStore, notifier *webhook.Notifier, defaultTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		accepted := time.Now()
		req, ok := bindAuditRequest(c, a)
		if !ok {
			return
		}

		job := models.NewAuditJob("audit-"+randomID(), time.Now().Unix(), *req)
		store.put(job)

		go runJob(a, notifier, job, req, accepted, defaultTimeout)

		c.JSON(http.StatusOK, models.JobResponse{
			ID:     job.ID,
			Status: models.JobProcessing,
		})
	}
}

// GetJob returns a handler for GET /api/v1/audit/jobs/:id.
func GetJob(store *JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := store.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "audit job not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, job.Snapshot())
	}
}

// runJob performs the audit detached from the originating HTTP request.
// TotalMs counts from when the request was accepted; CrawlMs covers the
// crawl alone.
func runJob(a Auditor, notifier *webhook.Notifier, job *models.AuditJob, req *models.AuditRequest, accepted time.Time, defaultTimeout time.Duration) {
	crawlStart := time.Now()
	result, err := runAudit(context.Background(), a, req, defaultTimeout)
	crawlMs := time.Since(crawlStart).Milliseconds()

	event := &webhook.Event{JobID: job.ID, Timestamp: time.Now().Unix()}
	if err != nil {
		auditErr := models.AsAuditError(err)
		job.Fail(auditErr.ToDetail())
		event.Type = webhook.EventAuditFailed
		event.Data = auditErr.ToDetail()
	} else {
		resp := models.NewAuditResponse(result)
		resp.Timing = models.TimingInfo{
			TotalMs: time.Since(accepted).Milliseconds(),
			CrawlMs: crawlMs,
		}
		job.Complete(resp)
		event.Type = webhook.EventAuditCompleted
		event.Data = resp
	}

	slog.Info("audit job finished",
		"id", job.ID,
		"status", job.Status(),
		"duration", time.Since(accepted),
	)

	if job.WebhookURL != "" && notifier != nil {
		notifier.DeliverAsync(job.WebhookURL, job.WebhookSecret, event)
	}
}

// randomID generates a short random hex string for job IDs.
func randomID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
