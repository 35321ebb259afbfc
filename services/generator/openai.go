package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agora-contentplane/pkg/config"
	"agora-contentplane/pkg/errutil"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIGenerator produces content through the OpenAI chat completion API.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

func NewOpenAIGenerator(cfg *config.Config) *OpenAIGenerator {
	return &OpenAIGenerator{
		client: openai.NewClient(
			option.WithAPIKey(cfg.OpenAI.APIKey),
		),
		model: cfg.OpenAI.Model,
	}
}

type completionPayload struct {
	Text     string   `json:"text"`
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
}

func (g *OpenAIGenerator) Generate(ctx context.Context, tpl Template, company CompanyContext) (*Result, error) {
	if tpl.Prompt == "" {
		return nil, errutil.GenerationFailed("template prompt is empty")
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt(tpl, company)),
		openai.UserMessage(tpl.Prompt),
	}

	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.model),
		Messages: messages,
	})
	if err != nil {
		return nil, errutil.GenerationFailed("content engine call failed", errutil.WithErr(err))
	}

	if len(completion.Choices) == 0 {
		return nil, errutil.GenerationFailed("content engine returned no choices")
	}

	raw := strings.TrimSpace(completion.Choices[0].Message.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var payload completionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		// Model ignored the JSON instruction, take the raw text as-is.
		return &Result{Text: strings.TrimSpace(raw)}, nil
	}

	if payload.Text == "" {
		return nil, errutil.GenerationFailed("content engine produced empty text")
	}

	return &Result{
		Text:     payload.Text,
		Caption:  payload.Caption,
		Hashtags: payload.Hashtags,
	}, nil
}

func systemPrompt(tpl Template, company CompanyContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You write %s content for the %s platform.\n", orDefault(tpl.ContentType, "social media"), orDefault(tpl.Platform, "social"))
	if company.Name != "" {
		fmt.Fprintf(&b, "Brand: %s (%s). %s\n", company.Name, company.Industry, company.Description)
	}
	if company.Tone != "" {
		fmt.Fprintf(&b, "Tone of voice: %s.\n", company.Tone)
	}
	if tpl.Style != "" {
		fmt.Fprintf(&b, "Style: %s.\n", tpl.Style)
	}
	if tpl.Category != "" {
		fmt.Fprintf(&b, "Category: %s.\n", tpl.Category)
	}
	if len(tpl.Keywords) > 0 {
		fmt.Fprintf(&b, "Work in these keywords: %s.\n", strings.Join(tpl.Keywords, ", "))
	}
	if tpl.Instructions != "" {
		fmt.Fprintf(&b, "Additional instructions: %s\n", tpl.Instructions)
	}
	if tpl.UseHashtags {
		b.WriteString("Include relevant hashtags.\n")
	} else {
		b.WriteString("Do not include hashtags.\n")
	}
	if !tpl.UseEmojis {
		b.WriteString("Do not use emojis.\n")
	}

	b.WriteString(`Respond with a JSON object: {"text": "...", "caption": "...", "hashtags": ["..."]}.`)

	return b.String()
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
