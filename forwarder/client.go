package forwarder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Client talks to the USB-forwarding daemon running on a slave. The
// redirection protocol itself is the daemon's business; the master only
// probes health and the current export list for diagnostics.
type Client struct {
	mu      sync.RWMutex
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Reconfigure points the client at a different daemon address.
func (c *Client) Reconfigure(baseURL string, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = baseURL
	c.http = &http.Client{Timeout: timeout}
}

type PingInfo struct {
	Product string `json:"product"`
	Version string `json:"version"`
}

// Export is one device the daemon currently shares.
type Export struct {
	Serial  string `json:"serial"`
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	BoundTo string `json:"bound_to,omitempty"`
}

func (c *Client) Ping() (*PingInfo, error) {
	var info PingInfo
	if err := c.get("/ping", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListExports retrieves the devices the daemon is sharing right now.
func (c *Client) ListExports() ([]Export, error) {
	var exports []Export
	if err := c.get("/exports", &exports); err != nil {
		return nil, err
	}
	return exports, nil
}

// Detach tells the daemon to drop any active binding on a device, used
// after a forced reclaim so the next user gets a clean attach.
func (c *Client) Detach(serial string) error {
	return c.post("/detach", map[string]string{"serial": serial}, nil)
}

func (c *Client) get(path string, out any) error {
	c.mu.RLock()
	url := c.baseURL + path
	client := c.http
	c.mu.RUnlock()

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("forwarder GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("forwarder GET %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(path string, body, out any) error {
	c.mu.RLock()
	url := c.baseURL + path
	client := c.http
	c.mu.RUnlock()

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("forwarder POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("forwarder POST %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
