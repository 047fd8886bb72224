// Package ha implements the subset of the Home Assistant websocket API
// needed to import long term statistics.
package ha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// StatisticMetadata describes the statistic being imported.
type StatisticMetadata struct {
	// Source is "recorder" for statistics of an existing entity, which
	// is the only kind this package imports.
	Source            string `json:"source"`
	HasMean           bool   `json:"has_mean"`
	HasSum            bool   `json:"has_sum"`
	Name              string `json:"name"`
	StatisticID       string `json:"statistic_id"`
	UnitOfMeasurement string `json:"unit_of_measurement"`
}

// StatisticValue is a single hourly data point.
type StatisticValue struct {
	// Start must be at the top of an hour.
	Start time.Time `json:"start"`
	State float64   `json:"state"`
	Sum   float64   `json:"sum"`
}

// Statistics bundles metadata and values.
type Statistics struct {
	Metadata StatisticMetadata `json:"metadata"`
	Stats    []StatisticValue  `json:"stats"`
}

// Options configures the connection.
type Options struct {
	// Secure selects wss instead of ws.
	Secure bool
	Logger *zap.Logger
}

type result struct {
	ID      int    `json:"id"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Connection is an authenticated websocket connection to Home Assistant.
//
// It is not safe for concurrent use.
type Connection struct {
	conn   *websocket.Conn
	nextID int
	logger *zap.Logger
	// ServerVersion is the version of the connected Home Assistant.
	ServerVersion string
}

// Dial connects and authenticates to Home Assistant.
//
// The host is name or ip, optionally followed by :port, without scheme.
// The token is a long-lived access token from the user profile page.
func Dial(ctx context.Context, host, accessToken string, o Options) (*Connection, error) {
	if host == "" {
		return nil, errors.New("missing Home Assistant server")
	}
	scheme := "ws"
	if o.Secure {
		scheme = "wss"
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	url := scheme + "://" + host + "/api/websocket"
	logger.Debug("connecting to Home Assistant", zap.String("url", url))
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		conn:   ws,
		nextID: 1,
		logger: logger,
	}
	if err := c.authenticate(ctx, accessToken); err != nil {
		c.Close()
		return nil, err
	}
	logger.Debug("connected to Home Assistant", zap.String("version", c.ServerVersion))
	return c, nil
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

// authenticate runs the auth phase described at
// https://developers.home-assistant.io/docs/api/websocket/
func (c *Connection) authenticate(ctx context.Context, accessToken string) error {
	var msg struct {
		Type      string `json:"type"`
		HAVersion string `json:"ha_version"`
		Message   string `json:"message"`
	}
	if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
		return err
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %q", msg.Type)
	}
	c.ServerVersion = msg.HAVersion

	auth := struct {
		Type        string `json:"type"`
		AccessToken string `json:"access_token"`
	}{"auth", accessToken}
	if err := wsjson.Write(ctx, c.conn, auth); err != nil {
		return err
	}

	if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
		return err
	}
	switch msg.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("invalid auth: %s", msg.Message)
	}
	return fmt.Errorf("unexpected auth response %q", msg.Type)
}

// ImportStatistics imports the statistics of a recorder entity. Values
// already stored for the same hours are overwritten.
func (c *Connection) ImportStatistics(ctx context.Context, stat Statistics) error {
	if stat.Metadata.StatisticID == "" {
		return errors.New("missing statistic id")
	}
	if stat.Metadata.Source == "" {
		stat.Metadata.Source = "recorder"
	}

	id := c.nextID
	c.nextID++

	msg := struct {
		ID   int    `json:"id"`
		Type string `json:"type"`
		Statistics
	}{id, "recorder/import_statistics", stat}
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return err
	}
	c.logger.Debug("statistics sent", zap.Int("id", id), zap.Int("values", len(stat.Stats)))

	var rsp result
	if err := wsjson.Read(ctx, c.conn, &rsp); err != nil {
		return err
	}
	if rsp.ID != id {
		return fmt.Errorf("protocol out of sync: got result for %d, want %d", rsp.ID, id)
	}
	if rsp.Type != "result" || !rsp.Success {
		return fmt.Errorf("error %s: %s", rsp.Error.Code, rsp.Error.Message)
	}
	return nil
}
