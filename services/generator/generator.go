package generator

import (
	"context"
)

// Template describes what to generate. The fields mirror a rule's content
// template; the engine treats the produced copy as opaque.
type Template struct {
	Category     string   `json:"category"`
	Prompt       string   `json:"prompt"`
	Style        string   `json:"style"`
	UseHashtags  bool     `json:"use_hashtags"`
	UseEmojis    bool     `json:"use_emojis"`
	Instructions string   `json:"instructions"`
	Platform     string   `json:"platform"`
	ContentType  string   `json:"content_type"`
	Keywords     []string `json:"keywords,omitempty"`
}

// CompanyContext carries the brand voice handed to the upstream engine.
type CompanyContext struct {
	CompanyID   string `json:"company_id"`
	Name        string `json:"name"`
	Industry    string `json:"industry"`
	Description string `json:"description"`
	Tone        string `json:"tone"`
}

// Result is the produced content.
type Result struct {
	Text      string   `json:"text"`
	Caption   string   `json:"caption,omitempty"`
	Hashtags  []string `json:"hashtags,omitempty"`
	MediaRefs []string `json:"media_refs,omitempty"`
}

// ContentGenerator produces marketing content from a template. Implementations
// may be slow (LLM latency); callers must pass a context they are willing to
// wait on.
type ContentGenerator interface {
	Generate(ctx context.Context, tpl Template, company CompanyContext) (*Result, error)
}
