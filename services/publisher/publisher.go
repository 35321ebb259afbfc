package publisher

import (
	"context"
	"time"
)

type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformLinkedIn  Platform = "linkedin"
)

// Credentials is the OAuth material an adapter needs to act on behalf of a
// company. Adapters never persist it; the CredentialStore owns durability.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	// AccountID is the platform-side actor: IG business account id, FB page
	// id, LinkedIn organization URN.
	AccountID string
	ClientID  string
	Secret    string
}

// Expired reports whether the access token is past its expiry.
func (c Credentials) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Post is the platform-neutral publish input.
type Post struct {
	Text      string
	Caption   string
	Hashtags  []string
	MediaURLs []string
}

// PublishResult is the uniform outcome of a publish attempt. Ordinary remote
// failures land here with Success=false; adapters only return an error for
// programmer-error-class misuse.
type PublishResult struct {
	Success      bool
	PostID       string
	PostURL      string
	ErrorCode    string
	ErrorMessage string
	// Retryable distinguishes transient platform trouble (rate limits,
	// 5xx, network) from terminal rejections (bad media, revoked access).
	Retryable bool
}

// PostStats is a snapshot of post-publish engagement.
type PostStats struct {
	Likes     int64
	Comments  int64
	Shares    int64
	Views     int64
	FetchedAt time.Time
}

// Publisher is the per-platform capability contract.
type Publisher interface {
	Platform() Platform

	Publish(ctx context.Context, post Post, creds Credentials) PublishResult

	ValidateCredentials(ctx context.Context, creds Credentials) bool

	// RefreshToken returns refreshed credentials, or nil when the grant is
	// unrecoverable and the user must re-authenticate.
	RefreshToken(ctx context.Context, creds Credentials) (*Credentials, error)

	// GetPostStats returns nil when the platform has no stats for the post.
	GetPostStats(ctx context.Context, postID string, creds Credentials) (*PostStats, error)

	DeletePost(ctx context.Context, postID string, creds Credentials) bool
}

// Error codes shared across adapters.
const (
	ErrCodeMissingCredentials = "missing_credentials"
	ErrCodeMissingMedia       = "missing_media"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeServerError        = "server_error"
	ErrCodeNetwork            = "network_error"
	ErrCodeRejected           = "rejected"
)

func failure(code, message string, retryable bool) PublishResult {
	return PublishResult{
		Success:      false,
		ErrorCode:    code,
		ErrorMessage: message,
		Retryable:    retryable,
	}
}

// classifyStatus maps an HTTP status to an error code and retryability.
func classifyStatus(status int) (string, bool) {
	switch {
	case status == 401 || status == 403:
		return ErrCodeUnauthorized, false
	case status == 429:
		return ErrCodeRateLimited, true
	case status >= 500:
		return ErrCodeServerError, true
	default:
		return ErrCodeRejected, false
	}
}
