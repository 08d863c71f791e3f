// Package job defines the pipeline's unit of work and its wire encoding.
package job

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/newsline/shorts-pipeline/internal/stage"
)

// MaxUploadRetries bounds Job.RetryCount (spec invariant: retryCount <= 3).
const MaxUploadRetries = 3

// MaxRegenerations bounds Job.RegenCount (spec invariant: regenCount <= 1).
const MaxRegenerations = 1

// Job is the unit of pipeline work, partitioned by ChannelID.
type Job struct {
	ID        string     `json:"id"`
	ChannelID string     `json:"channelId"`
	Title     string     `json:"title"`
	RSSTitle  string      `json:"rssTitle,omitempty"`
	Summary   string     `json:"summary"`
	Link      string     `json:"link"`
	Stage     stage.Stage `json:"stage"`

	FailureStep      string `json:"failureStep,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
	ValidationErrors []string `json:"validationErrors,omitempty"`

	RetryCount int `json:"retryCount"`
	RegenCount int `json:"regenCount"`

	Progress    int    `json:"progress"`
	CurrentStep string `json:"currentStep,omitempty"`

	FilePath      string `json:"filePath,omitempty"`
	ThumbnailPath string `json:"thumbnailPath,omitempty"`
	YoutubeURL    string `json:"youtubeUrl,omitempty"`
	ExternalID    string `json:"externalId,omitempty"`

	Tags        []string `json:"tags,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	Description string   `json:"description,omitempty"`
	Scenes      []string `json:"scenes,omitempty"`

	ClipPaths     []string `json:"clipPaths,omitempty"`
	VoiceoverPath string   `json:"voiceoverPath,omitempty"`

	ChannelBehaviorVersion string `json:"channelBehaviorVersion,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New creates a fresh job in QUEUED with a generated id.
func New(channelID, title, summary, link string) Job {
	now := time.Now().UTC()
	return Job{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		Title:     title,
		Summary:   summary,
		Link:      link,
		Stage:     stage.Queued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Marshal serializes the job to its canonical self-describing JSON form.
func (j Job) Marshal() (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Unmarshal decodes a job from its JSON form. Unknown fields are
// tolerated (consumers must accept additive schema changes, per §4).
func Unmarshal(s string) (Job, error) {
	var j Job
	err := json.Unmarshal([]byte(s), &j)
	return j, err
}

// NormalizeLink reduces a link to scheme + host + path, stripping query
// and fragment, for duplicate detection (spec §3.1).
func NormalizeLink(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.Scheme + "://" + u.Host + strings.TrimSuffix(u.Path, "/")
}
