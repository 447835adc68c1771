package prosbc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/telique/sbcfleet/internal/logger"
	"github.com/telique/sbcfleet/pkg/fleet/models"
)

const (
	// UserAgent identifies the automation on every outbound request.
	UserAgent = "sbcfleet-automation/1.0"

	// SessionCookieName is the appliance's session cookie.
	SessionCookieName = "_WebOAMP_session"

	// maxBodyBytes caps how much of a response body is read into memory for
	// scraping. Exports stream and are not subject to this cap.
	maxBodyBytes = 4 << 20
)

// Client is the low-level HTTP client for one appliance. Redirects are never
// followed automatically: the protocol signals success and failure through
// 302 Locations and flash cookies, so every redirect is inspected by hand.
type Client struct {
	applianceID string
	baseURL     *url.URL
	username    string
	password    string
	httpClient  *http.Client
	log         *slog.Logger
}

// NewClient creates a client for the given appliance. TLS verification is
// disabled only when the appliance row asks for it (self-signed certs).
func NewClient(app *models.Appliance) (*Client, error) {
	if err := app.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(app.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", app.BaseURL, err)
	}

	transport := cleanhttp.DefaultPooledTransport()
	if app.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		applianceID: app.ID,
		baseURL:     base,
		username:    app.Username,
		password:    app.Password,
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: logger.With("appliance", app.ID),
	}, nil
}

// ApplianceID returns the id of the appliance this client talks to.
func (c *Client) ApplianceID() string {
	return c.applianceID
}

// url joins a path onto the appliance base URL.
func (c *Client) url(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL.String() + path
}

// newRequest builds a request with the automation User-Agent.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	return req, nil
}

// do executes a request, converting transport-level failures to OpErrors.
func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &OpError{Kind: KindTimeout, Appliance: c.applianceID, Op: op, Message: "deadline exceeded", Err: err}
		}
		return nil, &OpError{Kind: KindUpstreamUnavailable, Appliance: c.applianceID, Op: op, Message: err.Error(), Err: err}
	}
	return resp, nil
}

// withCookie attaches the session cookie to a request.
func withCookie(req *http.Request, cookie string) {
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: cookie})
	}
}

// withBasicAuth attaches the appliance credentials for REST-ish endpoints.
func (c *Client) withBasicAuth(req *http.Request) {
	req.SetBasicAuth(c.username, c.password)
}

// readBody drains a response body up to maxBodyBytes and closes it.
func readBody(resp *http.Response) []byte {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil
	}
	return body
}

// sessionCookieFrom extracts the session cookie value from a response, or "".
func sessionCookieFrom(resp *http.Response) string {
	for _, ck := range resp.Cookies() {
		if ck.Name == SessionCookieName && ck.Value != "" {
			return ck.Value
		}
	}
	return ""
}

// flashFrom decodes the flash message the appliance folded into the session
// cookie of a response, if any.
func flashFrom(resp *http.Response) (Flash, bool) {
	for _, raw := range resp.Header.Values("Set-Cookie") {
		if f, ok := DecodeFlash(raw); ok {
			return f, true
		}
	}
	return Flash{}, false
}

// isLoginLocation reports whether a redirect Location points at the login
// page, which mid-flow means the session is not (or no longer) authenticated.
func isLoginLocation(location string) bool {
	if location == "" {
		return false
	}
	u, err := url.Parse(location)
	if err != nil {
		return strings.Contains(location, "/login")
	}
	return strings.HasSuffix(u.Path, "/login") || u.Path == "/login"
}

// looksLikeLoginPage reports whether an HTML body is the login form.
func looksLikeLoginPage(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, `action="/login"`) ||
		(strings.Contains(s, "login") && strings.Contains(s, `type="password"`))
}
