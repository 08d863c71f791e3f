package adminapi

import "time"

// ManualCreateRequest is the body of POST /manual/create.
type ManualCreateRequest struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// ManualTopicRequest is the body of POST /manual/topic and
// POST /manual/async/topic.
type ManualTopicRequest struct {
	Topic string `json:"topic"`
	Style string `json:"style"`
}

// ManualBatchTopicRequest is the body of POST /manual/batch/topic.
type ManualBatchTopicRequest struct {
	Topics []string `json:"topics"`
	Style  string   `json:"style"`
}

// AsyncAcceptedResponse is returned by the asynchronous manual endpoints,
// matching spec.md §6's literal `{id, stage, message}` shape.
type AsyncAcceptedResponse struct {
	ID      string `json:"id"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// BatchAcceptedResponse is returned by POST /manual/batch/topic.
type BatchAcceptedResponse struct {
	Accepted []AsyncAcceptedResponse `json:"accepted"`
	Dropped  int                     `json:"dropped,omitempty"`
}

// JobStatusResponse is the body of GET /manual/status/{id}.
type JobStatusResponse struct {
	ID               string    `json:"id"`
	ChannelID        string    `json:"channelId"`
	Title            string    `json:"title"`
	Stage            string    `json:"stage"`
	Progress         int       `json:"progress"`
	CurrentStep      string    `json:"currentStep,omitempty"`
	FailureStep      string    `json:"failureStep,omitempty"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	ValidationErrors []string  `json:"validationErrors,omitempty"`
	RetryCount       int       `json:"retryCount"`
	RegenCount       int       `json:"regenCount"`
	YoutubeURL       string    `json:"youtubeUrl,omitempty"`
	ExternalID       string    `json:"externalId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// TriggerResponse is returned by the operator one-shot trigger routes.
type TriggerResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// ErrorResponse is the uniform error envelope for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// AuditEntry is one line of the admin audit log.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user,omitempty"`
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
}

// Claims is the decoded JWT payload for an authenticated admin request.
type Claims struct {
	Subject   string   `json:"sub"`
	Roles     []string `json:"roles"`
	ExpiresAt int64    `json:"exp"`
	IssuedAt  int64    `json:"iat"`
}
