// Package fusionlib implements a client for the FusionSolar "thirdData"
// OpenAPI, the northbound interface used to read power station data from
// Huawei's monitoring cloud.
//
// The API is session based: Login returns a Session which must be passed to
// every other call and released with Logout. An OpenAPI account must be
// created by the plant installer before it can be used.
package fusionlib

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"
)

const (
	// DefaultBaseURL is the European FusionSolar region.
	DefaultBaseURL = "https://eu5.fusionsolar.huawei.com"
	// DefaultTimeout bounds each request. The API can be very slow, so it is
	// generous on purpose.
	DefaultTimeout = time.Hour

	loginPath       = "/thirdData/login"
	logoutPath      = "/thirdData/logout"
	stationListPath = "/thirdData/getStationList"
	realKPIPath     = "/thirdData/getStationRealKpi"

	// tokenName is both the cookie and the header carrying the session token.
	tokenName = "XSRF-TOKEN"

	// maxRedirects matches the net/http default policy.
	maxRedirects = 10
)

var (
	// ErrAuthenticationRejected is returned when the server explicitly
	// refuses a login or logout.
	ErrAuthenticationRejected = errors.New("authentication rejected")
	// ErrMissingSessionToken is returned when a successful login does not
	// carry the session token cookie.
	ErrMissingSessionToken = errors.New("XSRF-TOKEN not found in cookies")
	// ErrMalformedResponse is returned when a response body is not the
	// expected JSON envelope.
	ErrMalformedResponse = errors.New("unexpected response from server")
	// ErrDirectoryQueryRejected is returned when the station list cannot be
	// read or contains unknown records.
	ErrDirectoryQueryRejected = errors.New("get station list failed")
	// ErrFetchRejected is returned when the real time KPIs are refused.
	ErrFetchRejected = errors.New("real time information failed")
	// ErrStationNotFound is returned by Resolve when no station matches.
	ErrStationNotFound = errors.New("station not found")
	// ErrNoSession is returned when an authenticated call is attempted
	// without a valid Session.
	ErrNoSession = errors.New("not logged in")
)

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.hc.Timeout = d
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client talks to a FusionSolar OpenAPI endpoint.
//
// It is not safe for concurrent use, the API itself allows a single session
// per account.
type Client struct {
	baseURL *url.URL
	hc      *http.Client
	logger  *zap.Logger
}

// NewClient returns a new client for the server at baseURL, for example
// DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}

	j, err := cookiejar.New(&cookiejar.Options{
		PublicSuffixList: publicsuffix.List,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL: u,
		hc: &http.Client{
			Jar:     tokenlessJar{j},
			Timeout: DefaultTimeout,
		},
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// tokenlessJar keeps the load balancer cookies the server sets, but never
// the session token: that one belongs to the Session value only.
type tokenlessJar struct {
	http.CookieJar
}

func (j tokenlessJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	var keep []*http.Cookie
	for _, c := range cookies {
		if c.Name != tokenName {
			keep = append(keep, c)
		}
	}
	if len(keep) > 0 {
		j.CookieJar.SetCookies(u, keep)
	}
}

// envelope is the wrapper of every OpenAPI response.
type envelope struct {
	Success  *bool           `json:"success"`
	FailCode int             `json:"failCode"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data"`
}

// rejected builds the error for a response with success false.
func (e envelope) rejected(kind error) error {
	if e.Message != "" {
		return fmt.Errorf("%w: failCode %d: %s", kind, e.FailCode, e.Message)
	}
	return fmt.Errorf("%w (failCode %d)", kind, e.FailCode)
}

// newRequest prepares a JSON POST to the given API path.
func (c *Client) newRequest(ctx context.Context, path string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	u := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "web-auth", Value: "true"})
	return req, nil
}

// newAuthRequest is like newRequest but it attaches the session token both
// as cookie and header, as required by the API on every call after login.
func (c *Client) newAuthRequest(ctx context.Context, s Session, path string, payload any) (*http.Request, error) {
	if !s.Valid() {
		return nil, ErrNoSession
	}
	req, err := c.newRequest(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: tokenName, Value: s.Token})
	req.Header.Set(tokenName, s.Token)
	return req, nil
}

// do sends the request and decodes the response envelope.
//
// The response cookies are returned as well since login delivers the token
// there. They include the cookies set by redirect responses, in order. An
// envelope with success false is not an error here: the caller decides
// which kind of rejection it is.
func (c *Client) do(req *http.Request) (envelope, []*http.Cookie, error) {
	path := req.URL.Path
	c.logger.Debug("sending request", zap.String("path", path))

	var cookies []*http.Cookie
	hc := *c.hc
	hc.CheckRedirect = func(r *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		cookies = append(cookies, r.Response.Cookies()...)
		c.logger.Debug("following redirect", zap.String("path", path), zap.String("location", r.URL.Path))
		return nil
	}

	rsp, err := hc.Do(req)
	if err != nil {
		return envelope{}, nil, err
	}
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return envelope{}, nil, fmt.Errorf("cannot read http response: %w", err)
	}
	c.logger.Debug("received response",
		zap.String("path", path),
		zap.Int("status", rsp.StatusCode),
		zap.Int("bytes", len(body)),
	)

	if rsp.StatusCode != http.StatusOK {
		if t := htmlTitle(body); t != "" {
			return envelope{}, nil, fmt.Errorf("%s: status %v: %s", path, rsp.Status, t)
		}
		return envelope{}, nil, fmt.Errorf("%s: status %v", path, rsp.Status)
	}

	var e envelope
	if err := json.Unmarshal(body, &e); err != nil {
		c.logger.Warn("cannot decode response", zap.String("path", path), zap.Error(err))
		if t := htmlTitle(body); t != "" {
			return envelope{}, nil, fmt.Errorf("%w: got HTML page %q", ErrMalformedResponse, t)
		}
		return envelope{}, nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if e.Success == nil {
		return envelope{}, nil, fmt.Errorf("%w: missing success field", ErrMalformedResponse)
	}
	return e, append(cookies, rsp.Cookies()...), nil
}

// htmlTitle returns the title of an HTML document, or an empty string if
// body has no title. Gateways in front of the API answer with HTML pages
// on maintenance and errors.
func htmlTitle(body []byte) string {
	if !bytes.Contains(bytes.ToLower(body), []byte("<title")) {
		return ""
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var title string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return title
}
