package twitter

import (
	"fmt"
	"time"
)

// APIError is a non-2xx response from the platform.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter api error (%d): %s", e.Status, e.Message)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// ApiUser is a user object.
type ApiUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type referencedTweet struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ApiTweet is a tweet object with the fields this client requests.
type ApiTweet struct {
	ID               string            `json:"id"`
	Text             string            `json:"text"`
	AuthorID         string            `json:"author_id"`
	ConversationID   string            `json:"conversation_id"`
	CreatedAt        time.Time         `json:"created_at"`
	ReferencedTweets []referencedTweet `json:"referenced_tweets"`
	Attachments      struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
}

// parentID returns the id of the tweet this one replies to, if any.
func (t ApiTweet) parentID() string {
	for _, r := range t.ReferencedTweets {
		if r.Type == "replied_to" {
			return r.ID
		}
	}
	return ""
}

type apiProblem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

type includes struct {
	Users []ApiUser `json:"users"`
}

// TweetsResponse is returned by search and timeline endpoints.
type TweetsResponse struct {
	Data     []ApiTweet   `json:"data"`
	Includes includes     `json:"includes"`
	Errors   []apiProblem `json:"errors"`
	Meta     struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

// TweetResponse is returned by the single tweet lookup.
type TweetResponse struct {
	Data     *ApiTweet    `json:"data"`
	Includes includes     `json:"includes"`
	Errors   []apiProblem `json:"errors"`
}

// MeResponse is returned by the authenticated user lookup.
type MeResponse struct {
	Data ApiUser `json:"data"`
}

type CreateTweetRequest struct {
	Text  string      `json:"text"`
	Reply *replyField `json:"reply,omitempty"`
	Media *mediaField `json:"media,omitempty"`
}

type replyField struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type mediaField struct {
	MediaIDs []string `json:"media_ids"`
}

type CreateTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type MediaUploadResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}
