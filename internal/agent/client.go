package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wardenhq/warden/internal/agent/inventory"
	"github.com/wardenhq/warden/internal/agent/uninstall"
	"github.com/wardenhq/warden/internal/models"
)

// Config holds the agent's runtime settings.
type Config struct {
	ServerURL         string
	EnrollmentKey     string
	StateFile         string
	AgentVersion      string
	InventoryInterval time.Duration
	PollInterval      time.Duration
	CommandTimeout    time.Duration
}

// state is the persisted enrollment identity.
type state struct {
	DeviceID uuid.UUID `json:"device_id"`
	Token    string    `json:"token"`
}

// Client is the endpoint agent: it enrolls once, reports inventory on a
// timer, polls for commands and executes them, and keeps a WebSocket open so
// the server can nudge it into an immediate poll.
type Client struct {
	cfg         Config
	httpc       *http.Client
	collector   *inventory.Collector
	uninstaller *uninstall.Uninstaller

	st    state
	nudge chan struct{}
}

func NewClient(cfg Config, collector *inventory.Collector, uninstaller *uninstall.Uninstaller) *Client {
	return &Client{
		cfg:         cfg,
		httpc:       &http.Client{Timeout: 30 * time.Second},
		collector:   collector,
		uninstaller: uninstaller,
		nudge:       make(chan struct{}, 1),
	}
}

// Run drives the agent until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	if err := c.ensureEnrolled(ctx); err != nil {
		return err
	}

	go c.listenChannel(ctx)

	if err := c.reportInventory(ctx); err != nil {
		slog.Warn("Initial inventory report failed", "error", err)
	}
	c.pollAndExecute(ctx)

	inventoryTicker := time.NewTicker(c.cfg.InventoryInterval)
	defer inventoryTicker.Stop()
	pollTicker := time.NewTicker(c.cfg.PollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Agent stopping")
			return nil
		case <-inventoryTicker.C:
			if err := c.reportInventory(ctx); err != nil {
				slog.Warn("Inventory report failed", "error", err)
			}
		case <-pollTicker.C:
			c.pollAndExecute(ctx)
		case <-c.nudge:
			c.pollAndExecute(ctx)
		}
	}
}

// ensureEnrolled loads the persisted identity or enrolls with the server.
func (c *Client) ensureEnrolled(ctx context.Context) error {
	if data, err := os.ReadFile(c.cfg.StateFile); err == nil {
		var st state
		if json.Unmarshal(data, &st) == nil && st.Token != "" {
			c.st = st
			slog.Info("Loaded enrollment state", "device_id", st.DeviceID)
			return nil
		}
	}

	if c.cfg.EnrollmentKey == "" {
		return fmt.Errorf("no enrollment state and ENROLLMENT_KEY is not set")
	}

	hostname, _ := os.Hostname()
	req := map[string]string{
		"enrollment_key": c.cfg.EnrollmentKey,
		"hostname":       hostname,
		"os":             osName(),
		"arch":           archName(),
		"agent_version":  c.cfg.AgentVersion,
	}
	var resp struct {
		DeviceID uuid.UUID `json:"device_id"`
		Token    string    `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/agent/enroll", req, &resp); err != nil {
		return fmt.Errorf("enroll: %w", err)
	}

	c.st = state{DeviceID: resp.DeviceID, Token: resp.Token}
	if err := c.saveState(); err != nil {
		slog.Warn("Failed to persist enrollment state", "error", err)
	}
	slog.Info("Enrolled", "device_id", c.st.DeviceID)
	return nil
}

func (c *Client) saveState() error {
	if err := os.MkdirAll(filepath.Dir(c.cfg.StateFile), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(c.st)
	if err != nil {
		return err
	}
	return os.WriteFile(c.cfg.StateFile, data, 0o600)
}

func (c *Client) reportInventory(ctx context.Context) error {
	items, err := c.collector.Collect(ctx)
	if err != nil {
		return err
	}
	var resp struct {
		Stored int `json:"stored"`
	}
	payload := map[string]interface{}{"software": items}
	if err := c.doJSON(ctx, http.MethodPost, "/api/agent/inventory", payload, &resp); err != nil {
		return err
	}
	slog.Info("Inventory reported", "items", resp.Stored)
	return nil
}

// pollAndExecute fetches pending commands and runs them sequentially. Errors
// are logged and reported per command, never fatal to the loop.
func (c *Client) pollAndExecute(ctx context.Context) {
	var resp struct {
		Commands []models.RemoteCommand `json:"commands"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/agent/commands", nil, &resp); err != nil {
		slog.Warn("Command poll failed", "error", err)
		return
	}

	for _, cmd := range resp.Commands {
		result := c.execute(ctx, cmd)
		if err := c.postResult(ctx, cmd.ID, result); err != nil {
			slog.Error("Failed to report command result", "command_id", cmd.ID, "error", err)
		}
	}
}

func (c *Client) execute(ctx context.Context, cmd models.RemoteCommand) models.CommandResult {
	slog.Info("Executing command", "command_id", cmd.ID, "type", cmd.Type)

	switch cmd.Type {
	case models.CmdSoftwareUninstall:
		var payload models.UninstallPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			return models.CommandResult{
				Status: models.CommandFailed,
				Error:  fmt.Sprintf("invalid payload: %v", err),
			}
		}
		runCtx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
		return c.uninstaller.Uninstall(runCtx, uninstall.Request{
			Name:    payload.Name,
			Version: payload.Version,
		})
	default:
		return models.CommandResult{
			Status: models.CommandFailed,
			Error:  fmt.Sprintf("unsupported command type %q", cmd.Type),
		}
	}
}

func (c *Client) postResult(ctx context.Context, commandID uuid.UUID, result models.CommandResult) error {
	path := fmt.Sprintf("/api/agent/commands/%s/result", commandID)
	return c.doJSON(ctx, http.MethodPost, path, result, nil)
}

// listenChannel keeps the nudge WebSocket open, reconnecting with backoff.
func (c *Client) listenChannel(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.channelURL(), nil)
		if err != nil {
			slog.Warn("Channel connect failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < time.Minute {
				backoff *= 2
			}
			continue
		}

		slog.Info("Channel connected")
		backoff = time.Second

		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for {
			var event struct {
				Event string `json:"event"`
			}
			if err := conn.ReadJSON(&event); err != nil {
				slog.Warn("Channel closed", "error", err)
				conn.Close()
				break
			}
			if event.Event == "commands_pending" {
				select {
				case c.nudge <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (c *Client) channelURL() string {
	base := strings.TrimSuffix(c.cfg.ServerURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/agent/channel?token=" + c.st.Token
}

// doJSON performs one authenticated JSON round trip against the server.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.cfg.ServerURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.st.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.st.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s (HTTP %d)", method, path, apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
