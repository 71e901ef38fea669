package domain

import "time"

// VideoStatus is the projection state of a video
type VideoStatus string

// Video statuses
const (
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusReady      VideoStatus = "ready"
)

// Video is the read-side projection of a platform video
type Video struct {
	ID           string          `json:"id"`
	Source       string          `json:"source"`
	Title        string          `json:"title"`
	ThumbnailURL string          `json:"thumbnailUrl"`
	DurationSec  int             `json:"durationSec"`
	Status       VideoStatus     `json:"status"`
	Langs        map[string]bool `json:"langs"`
	LastJobID    string          `json:"lastJobId,omitempty"`
	Publish      map[string]any  `json:"publish,omitempty"`
	CreatedBy    string          `json:"createdBy,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// VideoMetadata is what the platform reports about a video
type VideoMetadata struct {
	Title        string
	ThumbnailURL string
	DurationSec  int
}

// InitialLangs marks the source language ready and every target pending
func InitialLangs() map[string]bool {
	langs := map[string]bool{SourceLang: true}
	for _, l := range TargetLangs {
		langs[l] = false
	}
	return langs
}

// ChannelStats are the public counters of a channel
type ChannelStats struct {
	Subscribers uint64 `json:"subscribers"`
	Views       uint64 `json:"views"`
	Videos      uint64 `json:"videos"`
}

// Channel is a tracked platform channel
type Channel struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Stats     ChannelStats `json:"stats"`
	CreatedBy string       `json:"createdBy,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// VoiceProfile maps an internal profile id to a provider voice
type VoiceProfile struct {
	ID        string    `json:"profile_id"`
	Name      string    `json:"name"`
	VoiceID   string    `json:"voice_id"`
	Project   string    `json:"project,omitempty"`
	Source    string    `json:"source"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MappedProfileID is the deterministic id of a profile created by mapping an existing voice
func MappedProfileID(project, voiceName string) string {
	if project == "" {
		project = "default"
	}
	return project + "__" + voiceName
}

// AppConfig is the runtime configuration editable by admins
type AppConfig struct {
	APIBase    string    `json:"apiBase"`
	TTSEnabled bool      `json:"ttsEnabled"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// AppConfigPatch updates only the fields that are set
type AppConfigPatch struct {
	APIBase    *string `json:"apiBase"`
	TTSEnabled *bool   `json:"ttsEnabled"`
}

// User holds the role labels assigned to an identity
type User struct {
	UID              string    `json:"uid"`
	Email            string    `json:"email,omitempty"`
	Roles            []string  `json:"roles"`
	TokensValidAfter time.Time `json:"tokensValidAfter"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Session is an issued bearer token, stored only by its hash
type Session struct {
	TokenHash string
	UID       string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
