package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// Client is an HTTP client for testing API endpoints.
// Requests carry "Authorization: Bearer <Token>" when Token is set.
type Client struct {
	BaseURL     string
	Token       string
	HTTPClient  *http.Client
	Validator   *OpenAPIValidator
	ValidateAPI bool
	t           *testing.T
}

// NewClient creates a new test client without validation.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithValidator creates a new test client with a pre-loaded OpenAPI validator.
// Use this in TestMain where *testing.T is not available during initialization.
func NewClientWithValidator(baseURL string, validator *OpenAPIValidator) *Client {
	c := NewClient(baseURL)
	c.Validator = validator
	c.ValidateAPI = true
	return c
}

// SetT sets the testing.T for validation error reporting.
func (c *Client) SetT(t *testing.T) {
	c.t = t
}

// Anonymous returns a copy of the client without a token, bound to t.
func (c *Client) Anonymous(t *testing.T) *Client {
	clone := *c
	clone.Token = ""
	clone.t = t
	return &clone
}

// WithoutValidation returns a copy of the client with validation disabled.
// Use this for negative tests where you expect invalid responses.
func (c *Client) WithoutValidation() *Client {
	clone := *c
	clone.ValidateAPI = false
	return &clone
}

// LoginResult is the data part of a successful login response.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Role      string `json:"role"`
	} `json:"user"`
}

// LoginAs returns a copy of the client authenticated as email.
func (c *Client) LoginAs(t *testing.T, email, password string) (*Client, *LoginResult) {
	t.Helper()

	anon := c.Anonymous(t)
	resp, err := anon.POST("/api/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: status=%d body=%s", resp.StatusCode, ReadBody(t, resp))
	}

	var body struct {
		Data LoginResult `json:"data"`
	}
	DecodeJSON(t, resp, &body)

	anon.Token = body.Data.Token
	return anon, &body.Data
}

// Register signs up a patient and returns its id.
func (c *Client) Register(t *testing.T, email, password, firstName, lastName string) string {
	t.Helper()

	resp, err := c.Anonymous(t).POST("/api/register", map[string]string{
		"email":      email,
		"password":   password,
		"first_name": firstName,
		"last_name":  lastName,
	})
	if err != nil {
		t.Fatalf("register request failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register failed: status=%d body=%s", resp.StatusCode, ReadBody(t, resp))
	}

	var body struct {
		Data struct {
			UserID string `json:"user_id"`
		} `json:"data"`
	}
	DecodeJSON(t, resp, &body)
	return body.Data.UserID
}

var emailSeq atomic.Int64

// RandomEmail returns an address unique within the test binary.
func RandomEmail(prefix string) string {
	return fmt.Sprintf("%s-%d-%d@example.com",
		strings.ToLower(prefix), time.Now().UnixNano(), emailSeq.Add(1))
}

// GET performs a GET request.
func (c *Client) GET(path string) (*http.Response, error) {
	return c.do(http.MethodGet, path, nil)
}

// POST performs a POST request with JSON body.
func (c *Client) POST(path string, body interface{}) (*http.Response, error) {
	return c.do(http.MethodPost, path, body)
}

// PATCH performs a PATCH request with JSON body.
func (c *Client) PATCH(path string, body interface{}) (*http.Response, error) {
	return c.do(http.MethodPatch, path, body)
}

// RawRequest sends req as is, without validation.
func (c *Client) RawRequest(req *http.Request) (*http.Response, error) {
	return c.HTTPClient.Do(req)
}

func (c *Client) do(method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	var bodyBytes []byte

	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	if c.ValidateAPI && c.Validator != nil && c.t != nil {
		// The outgoing body was consumed; rebuild it for the validator.
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		validationReq, _ := http.NewRequest(method, c.BaseURL+path, bodyReader)
		validationReq.Header = req.Header
		validationReq.URL = req.URL

		c.Validator.ValidateResponse(c.t, validationReq, resp)
	}

	return resp, nil
}

// DecodeJSON decodes response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ReadBody reads and returns response body as string.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

// ErrorMessage decodes an {"error":{"message":...}} body.
func ErrorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	DecodeJSON(t, resp, &body)
	return body.Error.Message
}
