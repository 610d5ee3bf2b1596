package orbithttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bernerdschaefer/eventsource"

	"github.com/astro-stack/orbit"
)

// HTTPClient models a concrete http.Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Client queries a remote instance of the server defined in this package.
type Client struct {
	client  HTTPClient
	baseurl string

	// RetryInterval between stream reconnect attempts. Default 3s.
	RetryInterval time.Duration
}

// NewClient returns a client calling the server at baseurl. A nil client uses
// http.DefaultClient.
func NewClient(client HTTPClient, baseurl string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if !strings.HasPrefix(baseurl, "http") {
		baseurl = "http://" + baseurl
	}
	return &Client{
		client:        client,
		baseurl:       strings.TrimSuffix(baseurl, "/"),
		RetryInterval: 3 * time.Second,
	}
}

// Search the remote server.
func (c *Client) Search(ctx context.Context, req *orbit.SearchRequest) (*EntriesResponse, error) {
	var res EntriesResponse
	if err := c.get(ctx, "/entries", req.QueryValues(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Get a single entry from the remote server.
func (c *Client) Get(ctx context.Context, id string) (*EntryResponse, error) {
	var res EntryResponse
	if err := c.get(ctx, "/entries/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Stats fetches summary stats from the remote server.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var res StatsResponse
	if err := c.get(ctx, "/stats", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	uri := c.baseurl + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", uri, nil)
	if err != nil {
		return fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("accept", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute HTTP request: %w", redactURL(err))
	}
	defer func() {
		io.Copy(io.Discard, httpResp.Body)
		httpResp.Body.Close()
	}()

	if httpResp.StatusCode != http.StatusOK {
		var e ErrorResponse
		json.NewDecoder(httpResp.Body).Decode(&e)
		return statusError(httpResp.StatusCode, e.Error)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// statusError maps remote error responses back to the orbit sentinel errors.
func statusError(code int, msg string) error {
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("remote: %s: %w", msg, orbit.ErrNotFound)
	case http.StatusBadRequest:
		return fmt.Errorf("remote: %s: %w", msg, orbit.ErrInvalidRequest)
	default:
		return fmt.Errorf("remote status code %d: %s", code, msg)
	}
}

func redactURL(err error) error {
	if urlErr := (&url.Error{}); errors.As(err, &urlErr) {
		err = fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

// Stream newly recorded entries matching the request from the remote server
// to ch, until the context is canceled or a non-recoverable error occurs. The
// request limit is ignored.
func (c *Client) Stream(ctx context.Context, req *orbit.SearchRequest, ch chan<- StreamEvent) error {
	// The event source reuses the request across reconnects, and treats
	// context cancelation as recoverable, so the request has no context, and
	// the stream is stopped by closing the event source.
	uri := c.baseurl + "/stream"
	if query := req.QueryValues(); len(query) > 0 {
		uri += "?" + query.Encode()
	}
	httpReq, err := http.NewRequest("GET", uri, nil)
	if err != nil {
		return fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("accept", "text/event-stream")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	es := eventsource.New(httpReq, c.RetryInterval)
	go func() {
		<-ctx.Done()
		es.Close()
	}()

	for {
		ev, err := es.Read()
		if errors.Is(err, eventsource.ErrClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read server-sent event: %w", err)
		}

		switch ev.Type {
		case "entry":
			var se StreamEvent
			if err := json.Unmarshal(ev.Data, &se); err != nil {
				return fmt.Errorf("decode entry event: %w", err)
			}
			select {
			case ch <- se:
			case <-ctx.Done():
				return nil
			}

		default:
			// init, stats
		}
	}
}
