package generichttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a device served by this package's route tables
type Client struct {
	// Base is the URL of the device's sub router, e.g.
	// http://lab-pc:8000/omc/stage
	Base string

	HTTP *http.Client
}

// NewClient returns a Client for the sub router at base
func NewClient(base string) *Client {
	return &Client{
		Base: strings.TrimSuffix(base, "/"),
		HTTP: &http.Client{Timeout: 2 * time.Minute},
	}
}

// StatusError is generated when the server does not respond 200
type StatusError struct {
	Code int
	Msg  string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Msg)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return StatusError{Code: resp.StatusCode, Msg: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Get decodes the JSON response of a GET on path into out
func (c *Client) Get(path string, out interface{}) error {
	return c.do(context.Background(), http.MethodGet, path, nil, out)
}

// GetContext is Get, abandoned when ctx is done
func (c *Client) GetContext(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post sends in as JSON to path and decodes the response into out.
// Either may be nil
func (c *Client) Post(path string, in, out interface{}) error {
	return c.do(context.Background(), http.MethodPost, path, in, out)
}

// PostContext is Post, abandoned when ctx is done
func (c *Client) PostContext(ctx context.Context, path string, in, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

// GetFloat returns the f64 of a GET on path
func (c *Client) GetFloat(path string) (float64, error) {
	f := FloatT{}
	err := c.Get(path, &f)
	return f.F64, err
}

// SetFloat posts {"f64": v} to path
func (c *Client) SetFloat(path string, v float64) error {
	return c.Post(path, FloatT{F64: v}, nil)
}

// GetBool returns the bool of a GET on path
func (c *Client) GetBool(path string) (bool, error) {
	b := BoolT{}
	err := c.Get(path, &b)
	return b.Bool, err
}

// SetBool posts {"bool": v} to path
func (c *Client) SetBool(path string, v bool) error {
	return c.Post(path, BoolT{Bool: v}, nil)
}
