package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/listing"
)

// APIError is a non-2xx response of the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return xerrors.Errorf("%s (%d): %s", e.Code, e.Status, e.Message).Error()
}

// Client talks to the listing endpoints of a running daemon.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient accepts either a bare host:port or a full URL.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		hc:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return xerrors.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode/100 != 2 {
		var eb errorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil {
			return &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		}
		return &APIError{Status: resp.StatusCode, Code: eb.Error, Message: eb.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Create(ctx context.Context, d listing.Draft) (*listing.Listing, error) {
	var l listing.Listing
	if err := c.call(ctx, http.MethodPost, "/listings", d, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) Get(ctx context.Context, id string) (*listing.Listing, error) {
	var l listing.Listing
	if err := c.call(ctx, http.MethodGet, "/listings/"+url.PathEscape(id), nil, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) Publish(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/listings/"+url.PathEscape(id)+"/publish", nil, nil)
}

// WaitSettled polls a listing until it leaves publishing.
func (c *Client) WaitSettled(ctx context.Context, id string, interval time.Duration) (*listing.Listing, error) {
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		l, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if l.Status != listing.StatusPublishing {
			return l, nil
		}

		select {
		case <-tick.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
