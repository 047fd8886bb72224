// Package parse converts FusionSolar KPIs into Home Assistant statistics.
package parse

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lorentz83/fusion2ha/fusionlib"
	"github.com/lorentz83/fusion2ha/ha"
)

// Energy parses a KPI expressed in kWh.
func Energy(v fusionlib.Value) (float64, error) {
	if !v.Present {
		return 0, errors.New("value not reported")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid energy value %q: %w", v.Text, err)
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid energy value %q", v.Text)
	}
	return f, nil
}

// hourStart returns the beginning of the hour of t, in the location of t.
//
// time.Truncate is not used because it works on absolute time and would
// misalign zones with a fractional hour offset.
func hourStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// Translate translates the KPIs of a station into Home Assistant statistics
// for the hour containing at.
//
// FusionSolar reports the energy produced since installation, which is the
// running sum Home Assistant wants for energy sensors. Importing again in
// the same hour overwrites the previous value.
func Translate(kpi fusionlib.RealTimeKPI, at time.Time) (ha.Statistics, error) {
	ret := ha.Statistics{
		Metadata: ha.StatisticMetadata{
			HasSum:            true,
			Name:              "FusionSolar total energy",
			UnitOfMeasurement: "kWh",
		},
	}

	total, err := Energy(kpi.TotalPower)
	if err != nil {
		return ret, fmt.Errorf("station %s: total power: %w", kpi.StationCode, err)
	}

	ret.Stats = []ha.StatisticValue{{
		Start: hourStart(at),
		State: total,
		Sum:   total,
	}}
	return ret, nil
}
