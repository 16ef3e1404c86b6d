// Package generate is the HTTP client for the third-party text-generation
// service that writes the actual answers.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"answerbot/pkg/logx"
)

var (
	ErrNoKey           = errors.New("generator key is empty")
	ErrEmptyCompletion = errors.New("generator returned no text")
)

type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "answer-v1"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("generator base url is required")
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}, nil
}

// Generate produces answer text for the prompt. An empty completion is an
// error; the pipeline never posts a blank answer.
func (c *Client) Generate(ctx context.Context, key, prompt string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", ErrNoKey
	}

	body, err := json.Marshal(map[string]string{
		"model":  c.cfg.Model,
		"prompt": prompt,
	})
	if err != nil {
		return "", err
	}
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("generation rejected", logx.Int("status", resp.StatusCode))
		return "", fmt.Errorf("generate: http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("generate: decode: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", ErrEmptyCompletion
	}
	return out.Text, nil
}

// Prompt renders the generation prompt for a candidate post.
func Prompt(channel, title, body string) string {
	var b strings.Builder
	b.WriteString("You are answering a question posted in the ")
	b.WriteString(channel)
	b.WriteString(" community.\n\nQuestion title: ")
	b.WriteString(strings.TrimSpace(title))
	if t := strings.TrimSpace(body); t != "" {
		b.WriteString("\n\nQuestion body: ")
		b.WriteString(t)
	}
	b.WriteString("\n\nWrite a concise, helpful answer.")
	return b.String()
}
