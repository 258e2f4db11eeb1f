// Package wled talks to WLED devices over their JSON HTTP API.
package wled

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/show"
)

// Client issues commands against WLED endpoints. It is stateless with
// respect to individual devices: every call takes the base URL, so one
// client serves the whole topology.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a WLED client. Timeouts are short on purpose: a show
// command that cannot be delivered quickly is already late.
func NewClient(timeout, connectTimeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 500 * time.Millisecond
	}
	if connectTimeout == 0 {
		connectTimeout = 200 * time.Millisecond
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		// Show traffic is bursty; idle connections to many small devices
		// are not worth keeping.
		DisableKeepAlives: true,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// ApplyPreset recalls a device-stored preset by index. The device is also
// switched on, matching how preset recall behaves from the WLED UI.
func (c *Client) ApplyPreset(ctx context.Context, baseURL string, index int) error {
	payload := map[string]any{"ps": index, "on": true}
	return c.postState(ctx, baseURL, payload)
}

// ApplyScene sends a sparse state patch. Fields the scene leaves nil are
// untouched on the device.
func (c *Client) ApplyScene(ctx context.Context, baseURL string, scene *show.Scene) error {
	return c.postState(ctx, baseURL, scene)
}

// Apply dispatches a validated show action.
func (c *Client) Apply(ctx context.Context, baseURL string, action show.Action) error {
	switch {
	case action.Preset != nil:
		return c.ApplyPreset(ctx, baseURL, *action.Preset)
	case action.Scene != nil:
		return c.ApplyScene(ctx, baseURL, action.Scene)
	default:
		return fmt.Errorf("action %s not executable against wled endpoint", action)
	}
}

// Preset is one entry of a device's stored preset table.
type Preset struct {
	ID   int
	Name string
}

// FetchPresets downloads the device's preset table from /presets.json.
// Slot 0 is the "empty" placeholder WLED always reports and is skipped, as
// are unnamed slots.
func (c *Client) FetchPresets(ctx context.Context, baseURL string) ([]Preset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/presets.json", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("presets.json: HTTP %d", resp.StatusCode)
	}

	var table map[string]struct {
		Name string `json:"n"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return nil, fmt.Errorf("decode presets.json: %w", err)
	}

	presets := make([]Preset, 0, len(table))
	for slot, entry := range table {
		id, err := strconv.Atoi(slot)
		if err != nil || id == 0 || entry.Name == "" {
			continue
		}
		presets = append(presets, Preset{ID: id, Name: entry.Name})
	}
	return presets, nil
}

// UploadPreset pushes a raw preset JSON document to a device. When slot > 0
// the preset is stored permanently under that slot (psave), otherwise it is
// applied as transient state only.
func (c *Client) UploadPreset(ctx context.Context, baseURL string, preset map[string]any, slot int) error {
	doc := make(map[string]any, len(preset)+1)
	for k, v := range preset {
		doc[k] = v
	}
	if slot > 0 {
		doc["psave"] = slot
	} else {
		delete(doc, "psave")
	}
	return c.postState(ctx, baseURL, doc)
}

func (c *Client) postState(ctx context.Context, baseURL string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + "/json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s: HTTP %d: %s", url, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	log.Debug().Str("url", url).RawJSON("payload", body).Msg("WLED state applied")
	return nil
}
