package roomservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPClientConfig configures the remote room API client.
type HTTPClientConfig struct {
	BaseURL        string
	AppID          string
	Token          string
	Timeout        time.Duration
	RequestsPerSec float64
}

// HTTPClient calls a remote room API laid out as
// {base}/rooms/v2/{appId}/{info|update|destroy}/{roomId}.
type HTTPClient struct {
	base    string
	appID   string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a client. Outbound calls are throttled so a burst of
// joins cannot hammer the lobby service.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 20
	}
	burst := int(cfg.RequestsPerSec)
	if burst < 1 {
		burst = 1
	}
	return &HTTPClient{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		appID:   cfg.AppID,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst),
	}
}

func (c *HTTPClient) GetRoomInfo(ctx context.Context, roomID string) (RoomInfo, error) {
	var info RoomInfo
	if err := c.do(ctx, http.MethodGet, "info", roomID, nil, &info); err != nil {
		return RoomInfo{}, err
	}
	if info.RoomID == "" {
		info.RoomID = roomID
	}
	return info, nil
}

func (c *HTTPClient) UpdateRoomConfig(ctx context.Context, roomID, roomConfig string) error {
	body := struct {
		RoomConfig string `json:"roomConfig"`
	}{roomConfig}
	return c.do(ctx, http.MethodPost, "update", roomID, body, nil)
}

func (c *HTTPClient) DestroyRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "destroy", roomID, nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, action, roomID string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s room %s: %w", action, roomID, err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	endpoint := fmt.Sprintf("%s/rooms/v2/%s/%s/%s",
		c.base, url.PathEscape(c.appID), action, url.PathEscape(roomID))
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s room %s: %w", action, roomID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, roomID)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s room %s: status %d: %s", action, roomID, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s room %s: decode: %w", action, roomID, err)
	}
	return nil
}
