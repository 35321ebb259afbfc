package publisher

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultLinkedInBaseURL = "https://api.linkedin.com"

// LinkedIn publishes UGC posts on behalf of an organization.
type LinkedIn struct {
	http    *resty.Client
	baseURL string
}

func NewLinkedIn() *LinkedIn {
	return &LinkedIn{
		http:    resty.New().SetTimeout(30 * time.Second),
		baseURL: defaultLinkedInBaseURL,
	}
}

func (p *LinkedIn) Platform() Platform { return PlatformLinkedIn }

type linkedInError struct {
	Message       string `json:"message"`
	ServiceErrors string `json:"serviceErrorCode"`
	Status        int    `json:"status"`
}

func (p *LinkedIn) Publish(ctx context.Context, post Post, creds Credentials) PublishResult {
	if creds.AccessToken == "" || creds.AccountID == "" {
		return failure(ErrCodeMissingCredentials, "linkedin account is not connected", false)
	}

	author := creds.AccountID
	if !strings.HasPrefix(author, "urn:li:") {
		author = "urn:li:organization:" + author
	}

	media := make([]map[string]any, 0, len(post.MediaURLs))
	category := "NONE"
	for _, url := range post.MediaURLs {
		category = "IMAGE"
		media = append(media, map[string]any{
			"status":       "READY",
			"originalUrl":  url,
			"mediaType":    "image",
			"thumbnails":   []any{},
			"overlayText":  "",
			"title":        map[string]any{"text": ""},
			"description":  map[string]any{"text": ""},
		})
	}

	body := map[string]any{
		"author":         author,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]any{"text": composeCaption(post)},
				"shareMediaCategory": category,
				"media":              media,
			},
		},
		"visibility": map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	var apiErr linkedInError
	resp, err := p.http.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		SetHeader("X-Restli-Protocol-Version", "2.0.0").
		SetBody(body).
		SetError(&apiErr).
		Post(p.baseURL + "/v2/ugcPosts")
	if err != nil {
		return failure(ErrCodeNetwork, err.Error(), true)
	}
	if resp.IsError() {
		code, retryable := classifyStatus(resp.StatusCode())
		return failure(code, apiErr.Message, retryable)
	}

	postID := resp.Header().Get("X-RestLi-Id")
	return PublishResult{
		Success: true,
		PostID:  postID,
		PostURL: "https://www.linkedin.com/feed/update/" + postID,
	}
}

func (p *LinkedIn) ValidateCredentials(ctx context.Context, creds Credentials) bool {
	if creds.AccessToken == "" {
		return false
	}

	resp, err := p.http.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		Get(p.baseURL + "/v2/userinfo")

	return err == nil && resp.IsSuccess()
}

type linkedInTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (p *LinkedIn) RefreshToken(ctx context.Context, creds Credentials) (*Credentials, error) {
	// LinkedIn only refreshes with an explicit refresh token grant.
	if creds.RefreshToken == "" || creds.ClientID == "" || creds.Secret == "" {
		return nil, nil
	}

	var token linkedInTokenResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": creds.RefreshToken,
			"client_id":     creds.ClientID,
			"client_secret": creds.Secret,
		}).
		SetResult(&token).
		Post(p.baseURL + "/oauth/v2/accessToken")
	if err != nil {
		return nil, err
	}
	if resp.IsError() || token.AccessToken == "" {
		return nil, nil
	}

	refreshed := creds
	refreshed.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		refreshed.RefreshToken = token.RefreshToken
	}
	if token.ExpiresIn > 0 {
		expiry := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
		refreshed.ExpiresAt = &expiry
	}
	return &refreshed, nil
}

type linkedInSocialActions struct {
	LikesSummary struct {
		TotalLikes int64 `json:"totalLikes"`
	} `json:"likesSummary"`
	CommentsSummary struct {
		TotalComments int64 `json:"aggregatedTotalComments"`
	} `json:"commentsSummary"`
}

func (p *LinkedIn) GetPostStats(ctx context.Context, postID string, creds Credentials) (*PostStats, error) {
	var actions linkedInSocialActions
	resp, err := p.http.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		SetResult(&actions).
		Get(p.baseURL + "/v2/socialActions/" + postID)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, nil
	}

	return &PostStats{
		Likes:     actions.LikesSummary.TotalLikes,
		Comments:  actions.CommentsSummary.TotalComments,
		FetchedAt: time.Now(),
	}, nil
}

func (p *LinkedIn) DeletePost(ctx context.Context, postID string, creds Credentials) bool {
	resp, err := p.http.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		Delete(p.baseURL + "/v2/ugcPosts/" + postID)
	return err == nil && resp.IsSuccess()
}
