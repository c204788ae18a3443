package models

import "sync"

// Job status values.
const (
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// JobResponse is the immediate response for POST /api/v1/audit/jobs.
type JobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// JobStatusResponse is the response for GET /api/v1/audit/jobs/:id.
type JobStatusResponse struct {
	ID      string         `json:"id"`
	Status  string         `json:"status"`
	Result  *AuditResponse `json:"result,omitempty"`
	Error   *ErrorDetail   `json:"error,omitempty"`
	Created int64          `json:"created_at"`
}

// AuditJob tracks an in-progress async audit.
type AuditJob struct {
	ID            string
	CreatedAt     int64 // unix timestamp
	WebhookURL    string
	WebhookSecret string

	mu     sync.Mutex
	status string
	result *AuditResponse
	err    *ErrorDetail
}

// NewAuditJob creates a job in the processing state.
func NewAuditJob(id string, createdAt int64, req AuditRequest) *AuditJob {
	return &AuditJob{
		ID:            id,
		CreatedAt:     createdAt,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
		status:        JobProcessing,
	}
}

// Complete records a successful result.
func (j *AuditJob) Complete(resp *AuditResponse) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = JobCompleted
	j.result = resp
}

// Fail records a terminal error.
func (j *AuditJob) Fail(detail *ErrorDetail) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = JobFailed
	j.err = detail
}

// Status returns the current job status.
func (j *AuditJob) Status() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Snapshot returns the API view of the job.
func (j *AuditJob) Snapshot() JobStatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobStatusResponse{
		ID:      j.ID,
		Status:  j.status,
		Result:  j.result,
		Error:   j.err,
		Created: j.CreatedAt,
	}
}
