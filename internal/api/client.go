// Package api is the client of the chat REST boundary.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chat-sync-client/internal/logging"

	"github.com/rs/xid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// maxBodySize limits how much of a response body is read
const maxBodySize = 8 << 20

var (
	ErrMalformedJSON   = errors.New("malformed JSON in response body")
	ErrEmptyBody       = errors.New("empty response body")
	ErrNoChatroomID    = errors.New("response has no chatroomId")
	ErrMissingArgument = errors.New("missing argument")
)

// StatusError is returned for responses with a non-2xx status code
type StatusError struct {
	Method string
	URI    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URI, e.Code, e.Body)
}

// Client defines fields used in REST interaction with the chat server
type Client struct {
	logger  *zap.SugaredLogger
	baseURL *url.URL
	http    *http.Client

	createChatroomPool fastjson.ParserPool
}

// NewClient returns new Client with provided zap.SugaredLogger and options applied over the defaults
func NewClient(logger *zap.SugaredLogger, opts ...Option) (*Client, error) {
	c := &config{
		baseURL:    "http://localhost:5000",
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o.apply(c)
	}

	u, err := url.Parse(strings.TrimRight(c.baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", c.baseURL)
	}

	return &Client{
		logger:  logger,
		baseURL: u,
		http:    c.httpClient,
	}, nil
}

// Chatrooms performs GET /api/chat/{userID} and returns the raw JSON body.
// Shape validation is left to the caller: the server may answer 200 with an error object.
func (c *Client) Chatrooms(ctx context.Context, userID string) ([]byte, error) {
	if userID == "" {
		return nil, fmt.Errorf("chatrooms: %w: user id", ErrMissingArgument)
	}
	return c.do(ctx, http.MethodGet, "/api/chat/"+url.PathEscape(userID), nil)
}

// Messages performs GET /api/chat/messages/{chatroomID} and returns the raw JSON body
func (c *Client) Messages(ctx context.Context, chatroomID string) ([]byte, error) {
	if chatroomID == "" {
		return nil, fmt.Errorf("messages: %w: chatroom id", ErrMissingArgument)
	}
	return c.do(ctx, http.MethodGet, "/api/chat/messages/"+url.PathEscape(chatroomID), nil)
}

// CreateChatroom performs POST /api/chat/chatrooms which creates a chatroom for two users
// or finds the existing one, and returns its id
func (c *Client) CreateChatroom(ctx context.Context, user1, user2 string) (string, error) {
	if user1 == "" || user2 == "" {
		return "", fmt.Errorf("create chatroom: %w: user ids", ErrMissingArgument)
	}

	var a fastjson.Arena
	req := a.NewObject()
	req.Set("user1", a.NewString(user1))
	req.Set("user2", a.NewString(user2))

	body, err := c.do(ctx, http.MethodPost, "/api/chat/chatrooms", req.MarshalTo(nil))
	if err != nil {
		return "", err
	}

	parser := c.createChatroomPool.Get()
	defer c.createChatroomPool.Put(parser)

	v, err := parser.ParseBytes(body)
	if err != nil {
		return "", fmt.Errorf("create chatroom: %w", ErrMalformedJSON)
	}

	idValue := v.Get("chatroomId")
	if idValue == nil {
		return "", ErrNoChatroomID
	}

	var id string
	switch idValue.Type() {
	case fastjson.TypeString:
		id = string(idValue.GetStringBytes())
	case fastjson.TypeNumber:
		id = idValue.String()
	}
	if id == "" {
		return "", ErrNoChatroomID
	}

	return id, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	id := xid.New().String()
	ctx = logging.NewContextWithID(ctx, id)
	logger := logging.WithContext(c.logger, ctx)

	uri := c.baseURL.String() + path

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", id)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.Debugw("outgoing http request", "method", method, "uri", uri)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, uri, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading body: %w", method, uri, err)
	}

	logger.Debugw("http response", "method", method, "uri", uri, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, URI: uri, Code: resp.StatusCode, Body: string(data)}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%s %s: %w", method, uri, ErrEmptyBody)
	}

	if err := fastjson.ValidateBytes(data); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, uri, ErrMalformedJSON)
	}

	return data, nil
}
