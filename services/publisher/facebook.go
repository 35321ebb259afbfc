package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Facebook publishes to a Facebook Page feed through the Graph API.
type Facebook struct {
	http    *resty.Client
	baseURL string
}

func NewFacebook() *Facebook {
	return &Facebook{
		http:    resty.New().SetTimeout(30 * time.Second),
		baseURL: defaultGraphBaseURL,
	}
}

func (p *Facebook) Platform() Platform { return PlatformFacebook }

func (p *Facebook) Publish(ctx context.Context, post Post, creds Credentials) PublishResult {
	if creds.AccessToken == "" || creds.AccountID == "" {
		return failure(ErrCodeMissingCredentials, "facebook page is not connected", false)
	}

	params := map[string]string{
		"access_token": creds.AccessToken,
	}

	// Photo posts and plain feed posts use different edges.
	endpoint := fmt.Sprintf("%s/%s/feed", p.baseURL, creds.AccountID)
	if len(post.MediaURLs) > 0 {
		endpoint = fmt.Sprintf("%s/%s/photos", p.baseURL, creds.AccountID)
		params["url"] = post.MediaURLs[0]
		params["caption"] = composeCaption(post)
	} else {
		params["message"] = composeCaption(post)
	}

	var created struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	var apiErr graphError
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&created).
		SetError(&apiErr).
		Post(endpoint)
	if err != nil {
		return failure(ErrCodeNetwork, err.Error(), true)
	}
	if resp.IsError() {
		code, retryable := classifyStatus(resp.StatusCode())
		return failure(code, apiErr.Error.Message, retryable)
	}

	postID := created.PostID
	if postID == "" {
		postID = created.ID
	}

	return PublishResult{
		Success: true,
		PostID:  postID,
		PostURL: "https://www.facebook.com/" + postID,
	}
}

func (p *Facebook) ValidateCredentials(ctx context.Context, creds Credentials) bool {
	if creds.AccessToken == "" || creds.AccountID == "" {
		return false
	}

	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", creds.AccessToken).
		SetQueryParam("fields", "id,name").
		Get(fmt.Sprintf("%s/%s", p.baseURL, creds.AccountID))

	return err == nil && resp.IsSuccess()
}

func (p *Facebook) RefreshToken(ctx context.Context, creds Credentials) (*Credentials, error) {
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

type facebookPostFields struct {
	Likes struct {
		Summary struct {
			TotalCount int64 `json:"total_count"`
		} `json:"summary"`
	} `json:"likes"`
	Comments struct {
		Summary struct {
			TotalCount int64 `json:"total_count"`
		} `json:"summary"`
	} `json:"comments"`
	Shares struct {
		Count int64 `json:"count"`
	} `json:"shares"`
}

func (p *Facebook) GetPostStats(ctx context.Context, postID string, creds Credentials) (*PostStats, error) {
	var fields facebookPostFields
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"fields":       "likes.summary(true),comments.summary(true),shares",
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
		Likes:     fields.Likes.Summary.TotalCount,
		Comments:  fields.Comments.Summary.TotalCount,
		Shares:    fields.Shares.Count,
		FetchedAt: time.Now(),
	}, nil
}

func (p *Facebook) DeletePost(ctx context.Context, postID string, creds Credentials) bool {
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", creds.AccessToken).
		Delete(fmt.Sprintf("%s/%s", p.baseURL, postID))
	return err == nil && resp.IsSuccess()
}
