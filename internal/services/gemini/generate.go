package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// GenerationOptions controls a generateContent call.
type GenerationOptions struct {
	// Grounding enables the Google Search tool. The API rejects JSON response
	// constraints alongside tools, so ResponseSchema is only sent without it.
	Grounding      bool
	ResponseSchema map[string]any
	Temperature    float64
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"file_data,omitempty"`
}

type fileData struct {
	MIMEType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type tool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type generationConfig struct {
	Temperature      float64        `json:"temperature"`
	ResponseMIMEType string         `json:"response_mime_type,omitempty"`
	ResponseSchema   map[string]any `json:"response_schema,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	Tools            []tool            `json:"tools,omitempty"`
	GenerationConfig *generationConfig `json:"generation_config,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func buildRequest(prompt string, files []File, opts GenerationOptions) generateRequest {
	parts := make([]part, 0, len(files)+1)
	for _, f := range files {
		parts = append(parts, part{FileData: &fileData{MIMEType: f.MIMEType, FileURI: f.URI}})
	}
	parts = append(parts, part{Text: prompt})
	req := generateRequest{
		Contents:         []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{Temperature: opts.Temperature},
	}
	if opts.Grounding {
		req.Tools = []tool{{GoogleSearch: &struct{}{}}}
	} else {
		req.GenerationConfig.ResponseMIMEType = "application/json"
		req.GenerationConfig.ResponseSchema = opts.ResponseSchema
	}
	return req
}

// Generate runs generateContent over the files and prompt and returns the
// concatenated text of the first candidate.
func (c *Client) Generate(ctx context.Context, prompt string, files []File, opts GenerationOptions) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", errors.New("gemini generate: api key required")
	}
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("gemini generate: prompt required")
	}
	endpoint, err := c.endpoint("models", c.cfg.Model+":generateContent")
	if err != nil {
		return "", fmt.Errorf("gemini generate: build url: %w", err)
	}
	var resp generateResponse
	if err := c.doJSON(ctx, "gemini generate", http.MethodPost, endpoint, buildRequest(prompt, files, opts), &resp); err != nil {
		return "", err
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini generate: prompt blocked (%s)", resp.PromptFeedback.BlockReason)
	}
	for _, cand := range resp.Candidates {
		var b strings.Builder
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			return text, nil
		}
		if cand.FinishReason != "" && cand.FinishReason != "STOP" {
			return "", fmt.Errorf("gemini generate: empty candidate (finish_reason=%s)", cand.FinishReason)
		}
	}
	return "", errors.New("gemini generate: empty response")
}

// Verify checks that the model accepts the generation configuration by
// counting tokens for a trivial request built with the same options.
func (c *Client) Verify(ctx context.Context, opts GenerationOptions) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return errors.New("gemini verify: api key required")
	}
	endpoint, err := c.endpoint("models", c.cfg.Model+":countTokens")
	if err != nil {
		return fmt.Errorf("gemini verify: build url: %w", err)
	}
	inner := buildRequest("ping", nil, opts)
	wrapped := map[string]any{
		"model":             "models/" + c.cfg.Model,
		"contents":          inner.Contents,
		"generation_config": inner.GenerationConfig,
	}
	if len(inner.Tools) > 0 {
		wrapped["tools"] = inner.Tools
	}
	payload := map[string]any{"generateContentRequest": wrapped}
	var resp struct {
		TotalTokens int `json:"totalTokens"`
	}
	return c.doJSON(ctx, "gemini verify", http.MethodPost, endpoint, payload, &resp)
}
