// Package client talks to a roomboard server: REST reads and writes through
// resty, and push subscriptions over SSE or websocket.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/astromechza/roomboard/pkg/rooms"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("read-only session")
)

// TransientError is a failure worth retrying later: the network, a timeout or
// a server-side fault.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: server returned %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

type Session struct {
	Role     string `json:"role"`
	ReadOnly bool   `json:"read_only"`
}

type apiError struct {
	Message string `json:"error"`
}

type Options struct {
	// Password is sent as a bearer token when set. Login is the alternative.
	Password string
	Timeout  time.Duration
	Logger   *slog.Logger
}

type Client struct {
	baseURL  string
	password string
	rest     *resty.Client
	logger   *slog.Logger
}

func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	if opts.Password != "" {
		rest.SetAuthToken(opts.Password)
	}
	return &Client{
		baseURL:  baseURL,
		password: opts.Password,
		rest:     rest,
		logger:   opts.Logger,
	}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.rest.R().SetContext(ctx).SetError(&apiError{})
}

// Login trades the password for a session cookie kept in the client's jar.
func (c *Client) Login(ctx context.Context, password string) (Session, error) {
	var out Session
	resp, err := c.request(ctx).
		SetBody(map[string]string{"password": password}).
		SetResult(&out).
		Post("/api/login")
	if err := classify("login", resp, err); err != nil {
		return Session{}, err
	}
	return out, nil
}

func (c *Client) Session(ctx context.Context) (Session, error) {
	var out Session
	resp, err := c.request(ctx).SetResult(&out).Get("/api/session")
	if err := classify("session", resp, err); err != nil {
		return Session{}, err
	}
	return out, nil
}

func (c *Client) List(ctx context.Context) ([]rooms.Room, error) {
	var out []rooms.Room
	resp, err := c.request(ctx).SetResult(&out).Get("/api/rooms")
	if err := classify("list rooms", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id string) (rooms.Room, error) {
	var out rooms.Room
	resp, err := c.request(ctx).SetPathParam("id", id).SetResult(&out).Get("/api/rooms/{id}")
	if err := classify("get room "+id, resp, err); err != nil {
		return rooms.Room{}, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, id string, patch rooms.Patch) (rooms.Room, error) {
	var out rooms.Room
	resp, err := c.request(ctx).
		SetPathParam("id", id).
		SetBody(patch).
		SetResult(&out).
		Patch("/api/rooms/{id}")
	if err := classify("update room "+id, resp, err); err != nil {
		return rooms.Room{}, err
	}
	return out, nil
}

func (c *Client) Reset(ctx context.Context) ([]rooms.Room, error) {
	var out []rooms.Room
	resp, err := c.request(ctx).SetResult(&out).Post("/api/reset")
	if err := classify("reset", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// streamClient shares the cookie jar of the REST client but has no overall
// timeout, since push streams stay open indefinitely.
func (c *Client) streamClient() *http.Client {
	hc := c.rest.GetClient()
	return &http.Client{Jar: hc.Jar, Transport: hc.Transport}
}

func (c *Client) authorize(h http.Header) {
	if c.password != "" {
		h.Set("Authorization", "Bearer "+c.password)
	}
}

func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	if !resp.IsError() {
		return nil
	}
	msg := resp.Status()
	if ae, ok := resp.Error().(*apiError); ok && ae.Message != "" {
		msg = ae.Message
	}
	return statusError(op, resp.StatusCode(), msg)
}

func statusError(op string, status int, msg string) error {
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case status == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, rooms.ErrNotFound)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%s: %w: %s", op, rooms.ErrInvalidPatch, msg)
	case status >= 500:
		return &TransientError{Op: op, Status: status, Err: errors.New(msg)}
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", op, status, msg)
	}
}
