package yeti

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/yetiwatch/yetiwatch/pkg/common"
	"github.com/yetiwatch/yetiwatch/pkg/log"
	"github.com/yetiwatch/yetiwatch/pkg/types"
)

// The only endpoints ever requested. Callers cannot supply paths.
const (
	statePath   = "state"
	sysinfoPath = "sysinfo"
)

const (
	// DefaultBaseURL is the name the device advertises on the local network.
	DefaultBaseURL = "http://yeti.local"

	// DefaultTimeout bounds a single device request.
	DefaultTimeout = 5 * time.Second

	deviceInfoTTL = time.Minute
)

// Client talks to the power station's local REST API.
// The zero value is not usable; use NewClient or Configured.
type Client struct {
	client *http.Client

	mu               sync.Mutex
	baseURL          string
	deviceInfoCache  types.DeviceInfo
	deviceInfoExpiry time.Time
}

// NewClient returns a Client for the device at baseURL. A timeout <= 0 falls
// back to DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{client: common.HTTPClient(timeout)}
	if err := c.SetBaseURL(baseURL); err != nil {
		return nil, err
	}
	return c, nil
}

// configuredClient sets up a Client from flags.
func configuredClient() *Client {
	addr := lflag.String("device-addr", DefaultBaseURL, "Base URL of the device's local REST API")
	timeout := lflag.Duration("device-timeout", DefaultTimeout, "Timeout for a single device request")

	c := &Client{}
	lflag.Do(func() {
		t := *timeout
		if t <= 0 {
			t = DefaultTimeout
		}
		c.client = common.HTTPClient(t)
		if err := c.SetBaseURL(*addr); err != nil {
			panic(fmt.Sprintf("invalid -device-addr: %s", err))
		}
	})
	return c
}

// BaseURL returns the device endpoint currently in use.
func (c *Client) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL
}

// SetBaseURL points the client at a different endpoint, typically after
// discovery. It also drops the cached device identity.
func (c *Client) SetBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid device URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("device URL must be http or https: %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("device URL missing host: %q", raw)
	}
	c.mu.Lock()
	c.baseURL = raw
	c.deviceInfoExpiry = time.Time{}
	c.mu.Unlock()
	return nil
}

// GetState fetches and decodes the device's current state.
func (c *Client) GetState(ctx context.Context) (types.DeviceSnapshot, error) {
	log.Ctx(ctx).DebugContext(ctx, "fetching device state")
	body, err := c.fetch(ctx, statePath)
	if err != nil {
		return types.DeviceSnapshot{}, err
	}
	return decodeSnapshot(body, time.Now())
}

// SetState submits a single settings change. The returned snapshot is the
// state the device echoed back; firmware may apply the change asynchronously,
// so the echo is an acknowledgment, not confirmation.
func (c *Client) SetState(ctx context.Context, field string, value int) (types.DeviceSnapshot, error) {
	log.Ctx(ctx).DebugContext(ctx, "submitting device state change",
		slog.String("field", field), slog.Int("value", value))
	body, err := c.submit(ctx, statePath, map[string]int{field: value})
	if err != nil {
		return types.DeviceSnapshot{}, err
	}
	return decodeSnapshot(body, time.Now())
}

// GetDeviceInfo returns the device's identity, cached for a minute since it
// only changes across firmware updates or renames.
func (c *Client) GetDeviceInfo(ctx context.Context) (types.DeviceInfo, error) {
	c.mu.Lock()
	if time.Now().Before(c.deviceInfoExpiry) {
		di := c.deviceInfoCache
		c.mu.Unlock()
		return di, nil
	}
	c.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "fetching device info")
	body, err := c.fetch(ctx, sysinfoPath)
	if err != nil {
		return types.DeviceInfo{}, err
	}
	di, err := decodeDeviceInfo(body)
	if err != nil {
		return types.DeviceInfo{}, err
	}

	c.mu.Lock()
	c.deviceInfoCache = di
	c.deviceInfoExpiry = time.Now().Add(deviceInfoTTL)
	c.mu.Unlock()
	return di, nil
}

func (c *Client) newGetRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	u, err := url.Parse(c.BaseURL())
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, "GET", u.String(), nil)
}

func (c *Client) newPostJSONRequest(ctx context.Context, endpoint string, data interface{}) (*http.Request, error) {
	u, err := url.Parse(c.BaseURL())
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	return c.do(ctx, func() (*http.Request, error) {
		return c.newGetRequest(ctx, endpoint)
	})
}

func (c *Client) submit(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	return c.do(ctx, func() (*http.Request, error) {
		return c.newPostJSONRequest(ctx, endpoint, payload)
	})
}

// do sends the request and returns the raw 200 body. The request is rebuilt
// for the one immediate retry when the device refuses the connection, which
// happens briefly while its wifi radio wakes up. Any other failure surfaces
// without retrying so persistent outages aren't masked.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	var resp *http.Response
	for attempt := 0; ; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err = c.client.Do(req)
		if err != nil {
			if attempt == 0 && errors.Is(err, syscall.ECONNREFUSED) {
				log.Ctx(ctx).DebugContext(ctx, "device refused connection, retrying once", slog.Any("error", err))
				continue
			}
			return nil, classifyErr(err)
		}
		break
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, classifyErr(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode,
			err:        fmt.Errorf("status %d", resp.StatusCode),
		}
	}
	return body, nil
}
