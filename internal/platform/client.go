// Package platform is the HTTP client for the forum platform: fetching
// recent posts from a channel and posting comments.
//
// Tokens are passed per call so one client instance serves every tenant;
// there is no process-wide bot identity.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"answerbot/pkg/logx"
)

var (
	ErrNoToken  = errors.New("platform token is empty")
	ErrRejected = errors.New("platform rejected the request")
)

// Post is one candidate fetched from a channel, most-recent-first.
type Post struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Author       string    `json:"author"`
	CreatedAt    time.Time `json:"created_at"`
	CommentCount int       `json:"comment_count"`
	Score        int       `json:"score"`
}

// Config configures the platform client.
//
// RatePerSec caps outbound calls across all tenants; the forum platform
// rate-limits by source address, not by token.
type Config struct {
	BaseURL    string
	RatePerSec int
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("platform base url is required")
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
	}, nil
}

// RecentPosts fetches up to limit recent posts from the channel.
func (c *Client) RecentPosts(ctx context.Context, token, channel string, limit int) ([]Post, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoToken
	}
	if limit <= 0 {
		limit = 25
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/channels/%s/posts?limit=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(channel), strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch posts %s: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("post fetch rejected",
			logx.String("channel", channel), logx.Int("status", resp.StatusCode))
		return nil, statusError("fetch posts", channel, resp)
	}

	var out struct {
		Posts []Post `json:"posts"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode posts %s: %w", channel, err)
	}
	return out.Posts, nil
}

// PostComment publishes text under the post and returns the new comment id.
func (c *Client) PostComment(ctx context.Context, token, postID, text string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrNoToken
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	u := fmt.Sprintf("%s/posts/%s/comments",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(postID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post comment %s: %w", postID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.log.Warn("comment rejected",
			logx.String("post_id", postID), logx.Int("status", resp.StatusCode))
		return "", statusError("post comment", postID, resp)
	}

	var out struct {
		CommentID string `json:"comment_id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode comment response: %w", err)
	}
	if strings.TrimSpace(out.CommentID) == "" {
		return "", fmt.Errorf("post comment %s: %w: empty comment id", postID, ErrRejected)
	}
	return out.CommentID, nil
}

func statusError(op, target string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("%s %s: %w: http %d: %s", op, target, ErrRejected, resp.StatusCode, msg)
}
