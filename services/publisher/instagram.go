package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// Instagram publishes through the Instagram Graph API. Publishing is a
// two-step flow: create a media container, then publish it.
type Instagram struct {
	http    *resty.Client
	baseURL string
}

func NewInstagram() *Instagram {
	return &Instagram{
		http:    resty.New().SetTimeout(30 * time.Second),
		baseURL: defaultGraphBaseURL,
	}
}

func (p *Instagram) Platform() Platform { return PlatformInstagram }

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type graphIDResponse struct {
	ID string `json:"id"`
}

func (p *Instagram) Publish(ctx context.Context, post Post, creds Credentials) PublishResult {
	if creds.AccessToken == "" || creds.AccountID == "" {
		return failure(ErrCodeMissingCredentials, "instagram credentials are not connected", false)
	}
	if len(post.MediaURLs) == 0 {
		return failure(ErrCodeMissingMedia, "instagram posts require at least one media url", false)
	}

	caption := composeCaption(post)

	var container graphIDResponse
	var apiErr graphError
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"image_url":    post.MediaURLs[0],
			"caption":      caption,
			"access_token": creds.AccessToken,
		}).
		SetResult(&container).
		SetError(&apiErr).
		Post(fmt.Sprintf("%s/%s/media", p.baseURL, creds.AccountID))
	if err != nil {
		return failure(ErrCodeNetwork, err.Error(), true)
	}
	if resp.IsError() {
		code, retryable := classifyStatus(resp.StatusCode())
		return failure(code, apiErr.Error.Message, retryable)
	}

	var published graphIDResponse
	apiErr = graphError{}
	resp, err = p.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"creation_id":  container.ID,
			"access_token": creds.AccessToken,
		}).
		SetResult(&published).
		SetError(&apiErr).
		Post(fmt.Sprintf("%s/%s/media_publish", p.baseURL, creds.AccountID))
	if err != nil {
		return failure(ErrCodeNetwork, err.Error(), true)
	}
	if resp.IsError() {
		code, retryable := classifyStatus(resp.StatusCode())
		return failure(code, apiErr.Error.Message, retryable)
	}

	return PublishResult{
		Success: true,
		PostID:  published.ID,
		PostURL: "https://www.instagram.com/p/" + published.ID,
	}
}

func (p *Instagram) ValidateCredentials(ctx context.Context, creds Credentials) bool {
	if creds.AccessToken == "" || creds.AccountID == "" {
		return false
	}

	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", creds.AccessToken).
		SetQueryParam("fields", "id").
		Get(fmt.Sprintf("%s/%s", p.baseURL, creds.AccountID))

	return err == nil && resp.IsSuccess()
}

type tokenExchangeResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// RefreshToken exchanges the current token for a fresh long-lived one.
func (p *Instagram) RefreshToken(ctx context.Context, creds Credentials) (*Credentials, error) {
	if creds.AccessToken == "" || creds.ClientID == "" || creds.Secret == "" {
		return nil, nil
	}

	var token tokenExchangeResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type":        "fb_exchange_token",
			"client_id":         creds.ClientID,
			"client_secret":     creds.Secret,
			"fb_exchange_token": creds.AccessToken,
		}).
		SetResult(&token).
		Get(p.baseURL + "/oauth/access_token")
	if err != nil {
		return nil, err
	}
	if resp.IsError() || token.AccessToken == "" {
		// the grant itself is dead, re-auth is the only way out
		return nil, nil
	}

	refreshed := creds
	refreshed.AccessToken = token.AccessToken
	if token.ExpiresIn > 0 {
		expiry := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
		refreshed.ExpiresAt = &expiry
	}
	return &refreshed, nil
}

type instagramMediaFields struct {
	LikeCount     int64 `json:"like_count"`
	CommentsCount int64 `json:"comments_count"`
}

func (p *Instagram) GetPostStats(ctx context.Context, postID string, creds Credentials) (*PostStats, error) {
	var fields instagramMediaFields
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"fields":       "like_count,comments_count",
			"access_token": creds.AccessToken,
		}).
		SetResult(&fields).
		Get(fmt.Sprintf("%s/%s", p.baseURL, postID))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, nil
	}

	return &PostStats{
		Likes:     fields.LikeCount,
		Comments:  fields.CommentsCount,
		FetchedAt: time.Now(),
	}, nil
}

func (p *Instagram) DeletePost(ctx context.Context, postID string, creds Credentials) bool {
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", creds.AccessToken).
		Delete(fmt.Sprintf("%s/%s", p.baseURL, postID))
	return err == nil && resp.IsSuccess()
}

func composeCaption(post Post) string {
	caption := post.Caption
	if caption == "" {
		caption = post.Text
	}
	if len(post.Hashtags) > 0 {
		tags := make([]string, 0, len(post.Hashtags))
		for _, tag := range post.Hashtags {
			if !strings.HasPrefix(tag, "#") {
				tag = "#" + tag
			}
			tags = append(tags, tag)
		}
		caption = strings.TrimSpace(caption + "\n\n" + strings.Join(tags, " "))
	}
	return caption
}
