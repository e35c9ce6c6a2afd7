// Package twitter adapts the Twitter/X API v2 to ports.Site.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"presence-agent/internal/core/domain"
	"presence-agent/internal/core/ports"
)

const (
	DefaultBaseURL = "https://api.twitter.com"
	tokenKey       = "token/twitter"
	tweetFields    = "author_id,conversation_id,created_at,referenced_tweets,attachments"
)

// Client is the platform adapter. It implements ports.Site and handles
// authentication, data mapping and API calls.
type Client struct {
	BaseURL    string
	Token      string
	Handle     string
	HTTPClient *http.Client
	Tokens     ports.Cache

	logger *slog.Logger
	self   ApiUser
}

func NewClient(baseURL, token, handle string, tokens ports.Cache, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{BaseURL: baseURL, Token: token, Handle: handle, Tokens: tokens, logger: logger}
}

var _ ports.Site = (*Client)(nil)

func (c *Client) Name() string {
	return "twitter"
}

// Initialize resolves the bearer token (configured, else previously saved),
// verifies it against the authenticated user endpoint and saves it.
func (c *Client) Initialize(ctx context.Context) error {
	if c.Token == "" && c.Tokens != nil {
		saved, ok, err := c.Tokens.Get(ctx, tokenKey)
		if err != nil {
			return fmt.Errorf("load saved token: %w", err)
		}
		if ok {
			c.Token = saved
		}
	}
	if c.Token == "" {
		return fmt.Errorf("platform token is required")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.Token, TokenType: "Bearer"}))
	}

	var me MeResponse
	if err := c.get(ctx, "/2/users/me", nil, &me); err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	c.self = me.Data
	if c.Handle == "" {
		c.Handle = me.Data.Username
	}
	if c.Tokens != nil {
		if err := c.Tokens.Set(ctx, tokenKey, c.Token); err != nil {
			c.logger.Warn("token_save_failed", "error", err)
		}
	}
	c.logger.Info("platform_authenticated", "site", c.Name(), "user_id", c.self.ID, "handle", c.Handle)
	return nil
}

func (c *Client) SelfID() string {
	return c.self.ID
}

func (c *Client) SearchMentions(ctx context.Context, query string, limit int, mode ports.SearchMode) ([]domain.Post, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("max_results", strconv.Itoa(clamp(limit, 10, 100)))
	q.Set("sort_order", "recency")
	if mode == ports.SearchTop {
		q.Set("sort_order", "relevancy")
	}
	withFields(q)

	var res TweetsResponse
	if err := c.get(ctx, "/2/tweets/search/recent", q, &res); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	posts := c.toPosts(res.Data, res.Includes.Users)
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (c *Client) FetchPost(ctx context.Context, id string) (domain.Post, error) {
	q := url.Values{}
	withFields(q)

	var res TweetResponse
	err := c.get(ctx, "/2/tweets/"+url.PathEscape(id), q, &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return domain.Post{}, fmt.Errorf("tweet %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Post{}, fmt.Errorf("fetch tweet %s: %w", id, err)
	}
	// Deleted or protected tweets come back as 200 with only errors.
	if res.Data == nil {
		return domain.Post{}, fmt.Errorf("tweet %s: %w", id, domain.ErrNotFound)
	}
	return c.toPosts([]ApiTweet{*res.Data}, res.Includes.Users)[0], nil
}

func (c *Client) FetchTimeline(ctx context.Context, limit int) ([]domain.Post, error) {
	if c.self.ID == "" {
		return nil, fmt.Errorf("client not initialized")
	}
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(clamp(limit, 1, 100)))
	withFields(q)

	var res TweetsResponse
	if err := c.get(ctx, "/2/users/"+c.self.ID+"/timelines/reverse_chronological", q, &res); err != nil {
		return nil, fmt.Errorf("fetch timeline: %w", err)
	}
	return c.toPosts(res.Data, res.Includes.Users), nil
}

func (c *Client) SendPost(ctx context.Context, text, replyToID string) (domain.PlatformResult, error) {
	return c.SendPostWithMedia(ctx, text, replyToID, nil)
}

func (c *Client) SendPostWithMedia(ctx context.Context, text, replyToID string, media [][]byte) (domain.PlatformResult, error) {
	body := CreateTweetRequest{Text: text}
	if replyToID != "" {
		body.Reply = &replyField{InReplyToTweetID: replyToID}
	}
	for i, m := range media {
		id, err := c.uploadMedia(ctx, m)
		if err != nil {
			return domain.PlatformResult{}, fmt.Errorf("upload media %d: %w", i, err)
		}
		if body.Media == nil {
			body.Media = &mediaField{}
		}
		body.Media.MediaIDs = append(body.Media.MediaIDs, id)
	}

	reqBody, _ := json.Marshal(body)
	var res CreateTweetResponse
	if err := c.do(ctx, http.MethodPost, "/2/tweets", "application/json", bytes.NewReader(reqBody), &res); err != nil {
		return domain.PlatformResult{}, fmt.Errorf("create tweet: %w", err)
	}
	if res.Data.ID == "" {
		return domain.PlatformResult{}, fmt.Errorf("create tweet: response without id")
	}

	return domain.PlatformResult{
		ID:             res.Data.ID,
		Text:           res.Data.Text,
		ConversationID: c.conversationOf(ctx, res.Data.ID, replyToID),
		AuthorID:       c.self.ID,
		ParentID:       replyToID,
		URL:            c.statusURL(c.Handle, res.Data.ID),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// conversationOf resolves the conversation a new tweet joined. A top-level
// tweet starts its own; a reply inherits its target's. A failed lookup is
// logged and leaves the conversation empty, since the tweet is already out.
func (c *Client) conversationOf(ctx context.Context, id, replyToID string) string {
	if replyToID == "" {
		return id
	}
	parent, err := c.FetchPost(ctx, replyToID)
	if err != nil {
		c.logger.Warn("conversation_lookup_failed", "tweet_id", id, "reply_to", replyToID, "error", err)
		return ""
	}
	return parent.ConversationID
}

func (c *Client) uploadMedia(ctx context.Context, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("media_category", "tweet_image")
	part, err := w.CreateFormFile("media", "image")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	var res MediaUploadResponse
	if err := c.do(ctx, http.MethodPost, "/2/media/upload", w.FormDataContentType(), &buf, &res); err != nil {
		return "", err
	}
	if res.Data.ID == "" {
		return "", fmt.Errorf("media upload returned no id")
	}
	return res.Data.ID, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.do(ctx, http.MethodGet, path, "", nil, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errRes struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&errRes)
		msg := errRes.Detail
		if msg == "" {
			msg = errRes.Title
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) toPosts(tweets []ApiTweet, users []ApiUser) []domain.Post {
	byID := make(map[string]ApiUser, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	posts := make([]domain.Post, 0, len(tweets))
	for _, t := range tweets {
		author := byID[t.AuthorID]
		posts = append(posts, domain.Post{
			ID:             t.ID,
			AuthorID:       t.AuthorID,
			AuthorHandle:   author.Username,
			AuthorName:     author.Name,
			Text:           t.Text,
			ConversationID: t.ConversationID,
			ParentID:       t.parentID(),
			URL:            c.statusURL(author.Username, t.ID),
			CreatedAt:      t.CreatedAt,
			MediaRefs:      t.Attachments.MediaKeys,
		})
	}
	return posts
}

func (c *Client) statusURL(handle, id string) string {
	if handle == "" {
		handle = "i/web"
	}
	return fmt.Sprintf("https://x.com/%s/status/%s", handle, id)
}

func withFields(q url.Values) {
	q.Set("tweet.fields", tweetFields)
	q.Set("expansions", "author_id")
	q.Set("user.fields", "username,name")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
