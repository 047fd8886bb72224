package fusionlib

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValue(t *testing.T) {
	tests := []struct {
		in   string
		want Value
		str  string
	}{
		{`"12.3"`, Value{Text: "12.3", Present: true}, "12.3"},
		{`300`, Value{Text: "300", Present: true}, "300"},
		{`9000.125`, Value{Text: "9000.125", Present: true}, "9000.125"},
		{`null`, Value{}, "n/a"},
		{`""`, Value{Text: "", Present: true}, ""},
	}
	for _, tc := range tests {
		var got Value
		if err := json.Unmarshal([]byte(tc.in), &got); err != nil {
			t.Errorf("Unmarshal(%s) unexpected error: %v", tc.in, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("Unmarshal(%s) mismatch (-want +got):\n%s", tc.in, diff)
		}
		if s := got.String(); s != tc.str {
			t.Errorf("Unmarshal(%s).String() got %q, want %q", tc.in, s, tc.str)
		}
	}
}

func TestRealTimeKPI(t *testing.T) {
	f, c := newFakeAPI(t, "T1", map[string]string{
		realKPIPath: `{"success":true,"failCode":0,"data":[{"stationCode":"C1","dataItemMap":{
			"day_power":"12.3","month_power":300,"total_power":"9000","real_health_state":"1","day_income":"2.1"}}]}`,
	})

	got, err := c.RealTimeKPI(context.Background(), Session{Token: "T1"}, "C1")
	if err != nil {
		t.Fatalf("RealTimeKPI() unexpected error: %v", err)
	}
	want := []RealTimeKPI{{
		StationCode: "C1",
		DayPower:    Value{Text: "12.3", Present: true},
		MonthPower:  Value{Text: "300", Present: true},
		TotalPower:  Value{Text: "9000", Present: true},
		HealthState: Value{Text: "1", Present: true},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RealTimeKPI() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]any{"stationCodes": "C1"}, f.requests[realKPIPath]); diff != "" {
		t.Errorf("RealTimeKPI() payload mismatch (-want +got):\n%s", diff)
	}
	if h := got[0].Health(); h != "disconnected" {
		t.Errorf("Health() got %q, want disconnected", h)
	}
}

func TestRealTimeKPI_MissingFields(t *testing.T) {
	_, c := newFakeAPI(t, "T1", map[string]string{
		realKPIPath: `{"success":true,"data":[
			{"stationCode":"C1","dataItemMap":{"day_power":"1","month_power":"2","total_power":"3"}},
			{"stationCode":"C2"}
		]}`,
	})

	got, err := c.RealTimeKPI(context.Background(), Session{Token: "T1"}, "C1")
	if err != nil {
		t.Fatalf("RealTimeKPI() unexpected error: %v", err)
	}
	want := []RealTimeKPI{
		{
			StationCode: "C1",
			DayPower:    Value{Text: "1", Present: true},
			MonthPower:  Value{Text: "2", Present: true},
			TotalPower:  Value{Text: "3", Present: true},
		},
		{StationCode: "C2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RealTimeKPI() mismatch (-want +got):\n%s", diff)
	}
	if h := got[0].Health(); h != "unknown" {
		t.Errorf("Health() got %q, want unknown", h)
	}
}

func TestRealTimeKPI_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"rejected", rejectedBody, ErrFetchRejected},
		{"not json", "<html><title>502 Bad Gateway</title></html>", ErrMalformedResponse},
		{"data is not a list", `{"success":true,"data":"C1"}`, ErrMalformedResponse},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, c := newFakeAPI(t, "T1", map[string]string{realKPIPath: tc.body})
			_, err := c.RealTimeKPI(context.Background(), Session{Token: "T1"}, "C1")
			if !errors.Is(err, tc.want) {
				t.Errorf("RealTimeKPI() got error %v, want %v", err, tc.want)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	for state, want := range map[string]string{"1": "disconnected", "2": "faulty", "3": "healthy", "9": "unknown"} {
		k := RealTimeKPI{HealthState: Value{Text: state, Present: true}}
		if got := k.Health(); got != want {
			t.Errorf("Health() for state %q got %q, want %q", state, got, want)
		}
	}
}
