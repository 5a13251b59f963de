// Package remote is the HTTP client for the story API.
//
// Every response body is a JSON envelope with an "error" flag and a "message".
// The client turns transport failures and gateway errors into
// *stories.ConnectivityError and error envelopes into *stories.RejectionError,
// which is how the domain layer decides between falling back and giving up.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stories-go/internal/model"
	"stories-go/internal/stories"
)

// DefaultBaseURL is the public story API.
const DefaultBaseURL = "https://story-api.dicoding.dev/v1"

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 8 << 20

// TokenSource returns the bearer token for authenticated calls.
type TokenSource func(ctx context.Context) (string, error)

// LoginResult is returned by a successful login.
type LoginResult struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

// Client calls the story API. A Client is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	token   TokenSource
}

// NewClient creates a Client for baseURL. client may be nil, in which case a
// client with a 30s timeout is used. token may be nil for unauthenticated use.
func NewClient(baseURL string, client *http.Client, token TokenSource) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		token:   token,
	}
}

// envelope is the common shape of every API response.
type envelope struct {
	Error       bool         `json:"error"`
	Message     string       `json:"message"`
	Offline     bool         `json:"offline,omitempty"`
	ListStory   []wireStory  `json:"listStory,omitempty"`
	Story       *wireStory   `json:"story,omitempty"`
	LoginResult *LoginResult `json:"loginResult,omitempty"`
}

type wireStory struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PhotoURL    string    `json:"photoUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	Lat         *float64  `json:"lat"`
	Lon         *float64  `json:"lon"`
}

func (w wireStory) toModel() model.Story {
	st := model.Story{
		ID:          w.ID,
		Author:      w.Name,
		Description: w.Description,
		PhotoURL:    w.PhotoURL,
		CreatedAt:   w.CreatedAt,
	}
	if w.Lat != nil && w.Lon != nil {
		st.Location = &model.Coordinates{Lat: *w.Lat, Lon: *w.Lon}
	}
	return st
}

// ListStories fetches one page of stories.
func (c *Client) ListStories(ctx context.Context, params stories.ListParams) ([]model.Story, error) {
	q := url.Values{}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.Size > 0 {
		q.Set("size", strconv.Itoa(params.Size))
	}
	if params.Location {
		q.Set("location", "1")
	} else {
		q.Set("location", "0")
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/stories?"+q.Encode(), nil, true)
	if err != nil {
		return nil, err
	}
	env, err := c.do(req, "list stories")
	if err != nil {
		return nil, err
	}

	result := make([]model.Story, 0, len(env.ListStory))
	for _, w := range env.ListStory {
		result = append(result, w.toModel())
	}
	return result, nil
}

// GetStory fetches one story by id.
func (c *Client) GetStory(ctx context.Context, id string) (*model.Story, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/stories/"+url.PathEscape(id), nil, true)
	if err != nil {
		return nil, err
	}
	env, err := c.do(req, "get story")
	if err != nil {
		return nil, err
	}
	if env.Story == nil {
		return nil, fmt.Errorf("get story %s: response has no story", id)
	}

	st := env.Story.toModel()
	return &st, nil
}

// CreateStory uploads a new story as the logged-in user.
func (c *Client) CreateStory(ctx context.Context, payload model.StoryPayload) error {
	return c.create(ctx, "/stories", payload, true, "create story")
}

// CreateGuestStory uploads a new story without credentials.
func (c *Client) CreateGuestStory(ctx context.Context, payload model.StoryPayload) error {
	return c.create(ctx, "/stories/guest", payload, false, "create guest story")
}

func (c *Client) create(ctx context.Context, path string, payload model.StoryPayload, auth bool, op string) error {
	body, contentType, err := encodeStoryForm(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, body, auth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	_, err = c.do(req, op)
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeStoryForm builds the multipart body for a story upload.
// Coordinates are sent only when both are present.
func encodeStoryForm(payload model.StoryPayload) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("description", payload.Description); err != nil {
		return nil, "", err
	}

	name := payload.PhotoName
	if name == "" {
		name = "photo.jpg"
	}
	contentType := payload.PhotoType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename="%s"`, quoteEscaper.Replace(name)))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(payload.Photo); err != nil {
		return nil, "", err
	}

	if loc := payload.Location; loc != nil {
		if err := w.WriteField("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64)); err != nil {
			return nil, "", err
		}
		if err := w.WriteField("lon", strconv.FormatFloat(loc.Lon, 'f', -1, 64)); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("encoding login: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/login", bytes.NewReader(body), false)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	env, err := c.do(req, "login")
	if err != nil {
		return nil, err
	}
	if env.LoginResult == nil || env.LoginResult.Token == "" {
		return nil, fmt.Errorf("login: response has no token")
	}
	return env.LoginResult, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	body, err := json.Marshal(map[string]string{"name": name, "email": email, "password": password})
	if err != nil {
		return fmt.Errorf("encoding registration: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/register", bytes.NewReader(body), false)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req, "register")
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, auth bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")

	if auth && c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading credentials: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do sends req and classifies the outcome.
func (c *Client) do(req *http.Request, op string) (*envelope, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, &stories.ConnectivityError{Op: op, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &stories.ConnectivityError{Op: op, Timeout: isTimeout(err), Err: err}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if isGatewayStatus(resp.StatusCode) {
			return nil, &stories.ConnectivityError{Op: op, Err: fmt.Errorf("gateway returned %s", resp.Status)}
		}
		if resp.StatusCode >= 400 {
			return nil, &stories.RejectionError{Op: op, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("%s: decoding response: %w", op, err)
	}

	// The cache proxy answers with an offline envelope when it cannot reach the API.
	if env.Offline {
		return nil, &stories.ConnectivityError{Op: op, Err: errors.New(env.Message)}
	}
	if env.Error || resp.StatusCode >= 400 {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &stories.RejectionError{Op: op, Status: resp.StatusCode, Message: msg}
	}
	return &env, nil
}

func isGatewayStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Compile-time check that Client implements stories.RemoteAPI
var _ stories.RemoteAPI = (*Client)(nil)
