package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/lorentz83/fusion2ha/config"
	"github.com/lorentz83/fusion2ha/creds"
	"github.com/lorentz83/fusion2ha/fusionlib"
	"github.com/lorentz83/fusion2ha/ha"
	"go.uber.org/zap"
)

func init() {
	subcommands.Register(&realTimeCmd{}, "")
	subcommands.Register(&sessionCmd{}, "")
	subcommands.Register(&uploadCmd{}, "")
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	baseExplain := subcommands.DefaultCommander.Explain
	subcommands.DefaultCommander.Explain = func(w io.Writer) {
		fmt.Fprint(w, "Read real time power station data from the FusionSolar OpenAPI and (optionally) upload it to Home Assistant.\n\n")
		fmt.Fprint(w, "Without a command, realtime is run.\n\n")
		baseExplain(w)
	}
}

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	var s subcommands.ExitStatus
	if flag.NArg() == 0 {
		s = runDefault(ctx, &realTimeCmd{})
	} else {
		s = subcommands.Execute(ctx)
	}
	stop()
	os.Exit(int(s))
}

// runDefault executes cmd as if it was invoked without flags.
func runDefault(ctx context.Context, cmd subcommands.Command) subcommands.ExitStatus {
	fs := flag.NewFlagSet(cmd.Name(), flag.ExitOnError)
	cmd.SetFlags(fs)
	_ = fs.Parse(nil)
	return cmd.Execute(ctx, fs)
}

// flagsFromEnv sets the flags not provided on the command line from
// environment variables with the same name.
func flagsFromEnv(f *flag.FlagSet) error {
	set := map[string]bool{}
	f.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var err error
	f.VisitAll(func(fl *flag.Flag) {
		if set[fl.Name] || err != nil {
			return
		}
		if v, ok := os.LookupEnv(fl.Name); ok && v != "" {
			if e := fl.Value.Set(v); e != nil {
				err = fmt.Errorf("invalid value %q for environment variable %s: %w", v, fl.Name, e)
			}
		}
	})
	return err
}

// missingFlags returns an error listing the given flags which are empty.
func missingFlags(flags map[string]string) error {
	var missing []string
	for name, v := range flags {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("the following flags are missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// newLogger returns the diagnostic logger. It writes on stderr since
// stdout is for the data.
func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	return cfg.Build()
}

// fusionFlags are the flags shared by all the commands.
type fusionFlags struct {
	configPath string
	baseURL    string
	user       string
	password   string
	plant      string
	timeout    time.Duration
	logLevel   string

	cfg config.Config
}

func (c *fusionFlags) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "the YAML configuration file, flags override its values")
	fs.StringVar(&c.baseURL, "fusion_url", "", "the FusionSolar base URL (default "+config.DefaultBaseURL+")")
	fs.StringVar(&c.user, "fusion_user", "", "the OpenAPI user name")
	fs.StringVar(&c.password, "fusion_password", "", "the OpenAPI password (system code)")
	fs.StringVar(&c.plant, "plant", "", "the name of the plant to read")
	fs.DurationVar(&c.timeout, "timeout", 0, "the timeout of each request (default 1h)")
	fs.StringVar(&c.logLevel, "log_level", "", "the level of the diagnostic logs on stderr (default warn)")
}

// load completes the flags with environment variables and the
// configuration file.
func (c *fusionFlags) load(fs *flag.FlagSet) error {
	if err := flagsFromEnv(fs); err != nil {
		return err
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.baseURL, cfg.FusionSolar.BaseURL)
	fill(&c.user, cfg.FusionSolar.Username)
	fill(&c.password, cfg.FusionSolar.Password)
	fill(&c.plant, cfg.FusionSolar.PlantName)
	fill(&c.logLevel, cfg.LogLevel)
	if c.timeout <= 0 {
		c.timeout = cfg.FusionSolar.Timeout
	}
	return nil
}

// staticCredentials returns the configured credentials, if both are set.
func (c *fusionFlags) staticCredentials() (creds.Static, bool) {
	if c.user == "" || c.password == "" {
		return creds.Static{}, false
	}
	return creds.Static{Username: c.user, Password: c.password}, true
}

// newDriver builds the driver talking to the configured server.
func (c *fusionFlags) newDriver() (*driver, error) {
	logger, err := newLogger(c.logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	client, err := fusionlib.NewClient(c.baseURL, fusionlib.WithTimeout(c.timeout), fusionlib.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &driver{
		api:    client,
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		errOut: os.Stderr,
		logger: logger,
		now:    time.Now,
	}, nil
}

type realTimeCmd struct {
	fusionFlags
}

func (realTimeCmd) Name() string { return "realtime" }

func (realTimeCmd) Synopsis() string {
	return "print the real time data of a power station"
}

func (realTimeCmd) Usage() string {
	return `realtime [<flags>]

All the flags are optional and can be provided as environment variables as well.
Missing credentials and plant name are asked on the terminal.

`
}

func (c *realTimeCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if err := c.load(f); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitUsageError
	}
	d, err := c.newDriver()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer d.logger.Sync()

	var p creds.Provider = creds.NewPrompt(d.in, d.out)
	if s, ok := c.staticCredentials(); ok {
		p = s
	}
	return d.realTime(ctx, p, c.plant)
}

type sessionCmd struct {
	fusionFlags
}

func (sessionCmd) Name() string { return "session" }

func (sessionCmd) Synopsis() string {
	return "login and logout, to validate the OpenAPI account"
}

func (sessionCmd) Usage() string {
	return `session <flags>

The credentials are required, but can be provided as environment variables
or in the configuration file as well.

`
}

func (c *sessionCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if err := c.load(f); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitUsageError
	}
	p, ok := c.staticCredentials()
	if !ok {
		err := missingFlags(map[string]string{"fusion_user": c.user, "fusion_password": c.password})
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitUsageError
	}
	d, err := c.newDriver()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer d.logger.Sync()

	return d.session(ctx, p)
}

type uploadCmd struct {
	fusionFlags
	server, token, sensor string
	secure                bool
}

func (uploadCmd) Name() string { return "upload" }

func (uploadCmd) Synopsis() string {
	return "upload the total energy produced by a power station to Home Assistant"
}

func (uploadCmd) Usage() string {
	return `upload <flags>

Credentials, plant and Home Assistant flags are required, but can be provided
as environment variables or in the configuration file as well.
It is meant to run hourly.

`
}

func (c *uploadCmd) SetFlags(fs *flag.FlagSet) {
	c.fusionFlags.SetFlags(fs)
	fs.StringVar(&c.server, "ha_server", "", "Home Assistant server name or IP and optionally the port")
	fs.StringVar(&c.token, "ha_token", "", "Home Assistant long-lived access token")
	fs.StringVar(&c.sensor, "ha_sensor", "", "Home Assistant sensor ID used to record the energy production")
	fs.BoolVar(&c.secure, "ha_secure", false, "connect to Home Assistant with TLS")
}

func (c *uploadCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if err := c.load(f); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitUsageError
	}
	hc := c.cfg.HomeAssistant
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.server, hc.Server)
	fill(&c.token, hc.Token)
	fill(&c.sensor, hc.Sensor)
	c.secure = c.secure || hc.Secure

	if err := missingFlags(map[string]string{
		"fusion_user":     c.user,
		"fusion_password": c.password,
		"plant":           c.plant,
		"ha_server":       c.server,
		"ha_token":        c.token,
		"ha_sensor":       c.sensor,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitUsageError
	}

	d, err := c.newDriver()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer d.logger.Sync()

	p, _ := c.staticCredentials()
	return d.upload(ctx, p, c.plant, c.sensor, c.dial(d.logger))
}

func (c *uploadCmd) dial(logger *zap.Logger) func(context.Context) (statsImporter, error) {
	return func(ctx context.Context) (statsImporter, error) {
		conn, err := ha.Dial(ctx, c.server, c.token, ha.Options{Secure: c.secure, Logger: logger})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
