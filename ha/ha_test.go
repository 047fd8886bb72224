package ha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// fakeHA emulates the Home Assistant websocket API.
type fakeHA struct {
	t        *testing.T
	token    string
	failWith string
	// received is filled with the import_statistics message.
	received chan map[string]any
}

func (f *fakeHA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/websocket" {
		http.NotFound(w, r)
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		f.t.Errorf("cannot accept websocket: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "")
	ctx := r.Context()

	if err := wsjson.Write(ctx, c, map[string]string{"type": "auth_required", "ha_version": "2023.9.0"}); err != nil {
		return
	}
	var auth map[string]string
	if err := wsjson.Read(ctx, c, &auth); err != nil {
		return
	}
	if auth["type"] != "auth" || auth["access_token"] != f.token {
		wsjson.Write(ctx, c, map[string]string{"type": "auth_invalid", "message": "Invalid access token or password"})
		return
	}
	if err := wsjson.Write(ctx, c, map[string]string{"type": "auth_ok", "ha_version": "2023.9.0"}); err != nil {
		return
	}

	var msg map[string]any
	if err := wsjson.Read(ctx, c, &msg); err != nil {
		return
	}
	f.received <- msg

	rsp := map[string]any{"id": msg["id"], "type": "result", "success": f.failWith == ""}
	if f.failWith != "" {
		rsp["error"] = map[string]string{"code": "invalid_format", "message": f.failWith}
	}
	wsjson.Write(ctx, c, rsp)
	// Wait for the client to close.
	c.Read(ctx)
}

func startFakeHA(t *testing.T, failWith string) (*fakeHA, string) {
	t.Helper()
	f := &fakeHA{t: t, token: "secret", failWith: failWith, received: make(chan map[string]any, 1)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, strings.TrimPrefix(srv.URL, "http://")
}

func testStatistics() Statistics {
	return Statistics{
		Metadata: StatisticMetadata{
			HasSum:            true,
			Name:              "Solar production",
			StatisticID:       "sensor.solar",
			UnitOfMeasurement: "kWh",
		},
		Stats: []StatisticValue{
			{Start: time.Date(2023, 7, 15, 10, 0, 0, 0, time.UTC), State: 9000, Sum: 9000},
		},
	}
}

func TestImportStatistics(t *testing.T) {
	f, host := startFakeHA(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Dial(ctx, host, "secret", Options{Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("Dial() unexpected error: %v", err)
	}
	defer c.Close()

	if c.ServerVersion != "2023.9.0" {
		t.Errorf("ServerVersion got %q, want 2023.9.0", c.ServerVersion)
	}

	if err := c.ImportStatistics(ctx, testStatistics()); err != nil {
		t.Fatalf("ImportStatistics() unexpected error: %v", err)
	}

	got := <-f.received
	want := map[string]any{
		"id":   float64(1),
		"type": "recorder/import_statistics",
		"metadata": map[string]any{
			"source":              "recorder",
			"has_mean":            false,
			"has_sum":             true,
			"name":                "Solar production",
			"statistic_id":        "sensor.solar",
			"unit_of_measurement": "kWh",
		},
		"stats": []any{
			map[string]any{"start": "2023-07-15T10:00:00Z", "state": float64(9000), "sum": float64(9000)},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ImportStatistics() sent mismatch (-want +got):\n%s", diff)
	}
}

func TestImportStatistics_Rejected(t *testing.T) {
	_, host := startFakeHA(t, "bad unit")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Dial(ctx, host, "secret", Options{})
	if err != nil {
		t.Fatalf("Dial() unexpected error: %v", err)
	}
	defer c.Close()

	err = c.ImportStatistics(ctx, testStatistics())
	if err == nil || !strings.Contains(err.Error(), "bad unit") {
		t.Errorf("ImportStatistics() got error %v, want one containing %q", err, "bad unit")
	}
}

func TestImportStatistics_MissingID(t *testing.T) {
	c := &Connection{}
	st := testStatistics()
	st.Metadata.StatisticID = ""
	if err := c.ImportStatistics(context.Background(), st); err == nil {
		t.Error("ImportStatistics() expected error without statistic id")
	}
}

func TestDial_InvalidToken(t *testing.T) {
	_, host := startFakeHA(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := Dial(ctx, host, "wrong", Options{})
	if err == nil || !strings.Contains(err.Error(), "invalid auth") {
		t.Errorf("Dial() got error %v, want invalid auth", err)
	}
}

func TestDial_MissingHost(t *testing.T) {
	if _, err := Dial(context.Background(), "", "secret", Options{}); err == nil {
		t.Error("Dial() expected error without host")
	}
}
