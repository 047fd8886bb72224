package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/subcommands"
	"github.com/lorentz83/fusion2ha/creds"
	"github.com/lorentz83/fusion2ha/fusionlib"
	"github.com/lorentz83/fusion2ha/ha"
	"github.com/lorentz83/fusion2ha/parse"
	"go.uber.org/zap"
)

// api is the part of fusionlib.Client used by the driver.
type api interface {
	Login(ctx context.Context, user, password string) (fusionlib.Session, error)
	Logout(ctx context.Context, s fusionlib.Session) error
	ListStations(ctx context.Context, s fusionlib.Session) ([]fusionlib.Station, error)
	RealTimeKPI(ctx context.Context, s fusionlib.Session, stationCode string) ([]fusionlib.RealTimeKPI, error)
}

// statsImporter is the part of ha.Connection used by the driver.
type statsImporter interface {
	ImportStatistics(ctx context.Context, stat ha.Statistics) error
	Close() error
}

// driver runs the session workflow: every step runs after the previous
// one completed and once logged in every exit path goes through logout.
type driver struct {
	api    api
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
	logger *zap.Logger
	now    func() time.Time
}

func (d *driver) infof(format string, args ...any) {
	fmt.Fprintf(d.out, "INFO: "+format+"\n", args...)
}

func (d *driver) errorf(format string, args ...any) {
	fmt.Fprintf(d.errOut, "ERROR: "+format+"\n", args...)
}

// login returns false if the session could not be established.
func (d *driver) login(ctx context.Context, p creds.Provider) (fusionlib.Session, bool) {
	c, err := p.Credentials()
	if err != nil {
		d.errorf("Cannot read credentials: %v", err)
		return fusionlib.Session{}, false
	}

	s, err := d.api.Login(ctx, c.Username, c.Password)
	switch {
	case err == nil:
		d.infof("Login Successfully")
		return s, true
	case errors.Is(err, fusionlib.ErrMalformedResponse):
		d.errorf("Login unexpected response from server: %v", err)
	default:
		d.errorf("Login Failed: %v", err)
	}
	return fusionlib.Session{}, false
}

// logout returns false if the server did not confirm the logout.
//
// The logout is sent even if ctx is already canceled, the session would be
// left open otherwise. The client timeout still bounds it.
func (d *driver) logout(ctx context.Context, s fusionlib.Session) bool {
	err := d.api.Logout(context.WithoutCancel(ctx), s)
	switch {
	case err == nil:
		d.infof("Logout Successfully")
		return true
	case errors.Is(err, fusionlib.ErrMalformedResponse):
		d.errorf("Logout unexpected response from server: %v", err)
	default:
		d.errorf("Logout Failed: %v", err)
	}
	return false
}

// abort reports a fatal error happened with an active session, logs out
// and returns the failure status.
func (d *driver) abort(ctx context.Context, s fusionlib.Session, format string, args ...any) subcommands.ExitStatus {
	d.errorf(format, args...)
	d.logout(ctx, s)
	return subcommands.ExitFailure
}

// realTime is the interactive workflow: it prints the real time KPIs of
// the plant called plantName. If plantName is empty it is asked.
//
// A plant which is not found is reported but the workflow goes on: the
// server decides what the KPIs of an unknown station are. The exit status
// is a failure anyway.
func (d *driver) realTime(ctx context.Context, p creds.Provider, plantName string) subcommands.ExitStatus {
	s, ok := d.login(ctx, p)
	if !ok {
		return subcommands.ExitFailure
	}

	stations, err := d.api.ListStations(ctx, s)
	if err != nil {
		if errors.Is(err, fusionlib.ErrMalformedResponse) {
			return d.abort(ctx, s, "Get station list unexpected response from server: %v", err)
		}
		return d.abort(ctx, s, "Get Station List Failed: %v", err)
	}

	if plantName == "" {
		plantName, err = creds.Ask(d.in, d.out, "Enter plant name: ")
		if err != nil {
			return d.abort(ctx, s, "Cannot read plant name: %v", err)
		}
	}

	d.infof("Stations list:")
	for _, st := range stations {
		d.infof("Station name : %s; Station code : %s", st.Name, st.Code)
		d.logger.Debug("station",
			zap.String("name", st.Name),
			zap.String("code", st.Code),
			zap.Float64("capacity_kwp", st.Capacity),
			zap.String("address", st.Address),
			zap.String("linkman", st.Linkman),
		)
	}

	ret := subcommands.ExitSuccess
	code, err := fusionlib.Resolve(stations, plantName)
	if err != nil {
		d.errorf("Plant name %s not found in station list", plantName)
		ret = subcommands.ExitFailure
	}

	kpis, err := d.api.RealTimeKPI(ctx, s, code)
	if err != nil {
		if errors.Is(err, fusionlib.ErrMalformedResponse) {
			return d.abort(ctx, s, "Real time data unexpected response from server: %v", err)
		}
		return d.abort(ctx, s, "Real Time Information Failed: %v", err)
	}

	d.infof("Real time data for %s station:", plantName)
	for _, k := range kpis {
		printKPI(d.out, k)
	}

	if !d.logout(ctx, s) {
		return subcommands.ExitFailure
	}
	return ret
}

func printKPI(w io.Writer, k fusionlib.RealTimeKPI) {
	fmt.Fprintf(w, "Day power : %s\n", k.DayPower)
	fmt.Fprintf(w, "Month power : %s\n", k.MonthPower)
	fmt.Fprintf(w, "Total power : %s\n", k.TotalPower)
	if k.HealthState.Present {
		fmt.Fprintf(w, "Health State : %s (%s)\n", k.HealthState, k.Health())
	} else {
		fmt.Fprintf(w, "Health State : %s\n", k.HealthState)
	}
}

// session only logs in and out, it is useful to validate an account.
func (d *driver) session(ctx context.Context, p creds.Provider) subcommands.ExitStatus {
	s, ok := d.login(ctx, p)
	if !ok {
		return subcommands.ExitFailure
	}
	d.infof("Session token acquired (%d bytes)", len(s.Token))
	if !d.logout(ctx, s) {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// upload imports the cumulative energy of plantName into the Home
// Assistant sensor. Unlike realTime, an unknown plant is fatal.
func (d *driver) upload(ctx context.Context, p creds.Provider, plantName, sensor string, dial func(context.Context) (statsImporter, error)) subcommands.ExitStatus {
	s, ok := d.login(ctx, p)
	if !ok {
		return subcommands.ExitFailure
	}

	stations, err := d.api.ListStations(ctx, s)
	if err != nil {
		return d.abort(ctx, s, "Get Station List Failed: %v", err)
	}
	code, err := fusionlib.Resolve(stations, plantName)
	if err != nil {
		return d.abort(ctx, s, "Plant name %s not found in station list", plantName)
	}
	kpis, err := d.api.RealTimeKPI(ctx, s, code)
	if err != nil {
		return d.abort(ctx, s, "Real Time Information Failed: %v", err)
	}
	if len(kpis) == 0 {
		return d.abort(ctx, s, "No real time data for %s station", plantName)
	}

	// Home Assistant is not involved in the session, log out before
	// talking to it.
	if !d.logout(ctx, s) {
		return subcommands.ExitFailure
	}

	stat, err := parse.Translate(kpis[0], d.now())
	if err != nil {
		d.errorf("Cannot translate data: %v", err)
		return subcommands.ExitFailure
	}
	stat.Metadata.StatisticID = sensor

	conn, err := dial(ctx)
	if err != nil {
		d.errorf("Cannot connect to Home Assistant: %v", err)
		return subcommands.ExitFailure
	}
	defer conn.Close()

	if err := conn.ImportStatistics(ctx, stat); err != nil {
		d.errorf("Cannot send statistics to Home Assistant: %v", err)
		return subcommands.ExitFailure
	}
	d.logger.Info("statistics imported", zap.String("sensor", sensor), zap.Float64("total_kwh", stat.Stats[0].Sum))
	d.infof("Sent total power %v kWh to %s", stat.Stats[0].Sum, sensor)
	return subcommands.ExitSuccess
}
