package prosbc

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/telique/sbcfleet/internal/logger"
)

const (
	// DefaultSessionTTL is how long a session is trusted after its last
	// successful validation.
	DefaultSessionTTL = 20 * time.Minute

	// DefaultProbeInterval is the minimum spacing between validation probes
	// for one session. Within the window the cached cookie is returned as-is.
	DefaultProbeInterval = 5 * time.Minute
)

// session is the cached cookie state for one appliance.
type session struct {
	cookie          string
	createdAt       time.Time
	lastValidatedAt time.Time
}

func (s *session) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.lastValidatedAt) > ttl
}

func (s *session) needsProbe(interval time.Duration, now time.Time) bool {
	return now.Sub(s.lastValidatedAt) > interval
}

// SessionPool owns the cookie lifecycle for every appliance: login, TTL,
// validation probes and eviction. Concurrent callers for one appliance
// observe a single login attempt; followers subscribe to the leader's result
// and a follower's deadline does not cancel the leader.
type SessionPool struct {
	mu       sync.Mutex
	sessions map[string]*session
	group    singleflight.Group

	ttl           time.Duration
	probeInterval time.Duration
	metrics       SessionMetrics
	now           func() time.Time // test hook
}

// SessionMetrics observes pool activity. Pass nil to disable.
type SessionMetrics interface {
	// RecordLogin records one login attempt and its outcome ("ok", an error
	// kind name otherwise).
	RecordLogin(applianceID, outcome string)
	// RecordCacheHit records a cookie served without a login.
	RecordCacheHit(applianceID string)
}

// NewSessionPool creates a pool with the given TTLs; zero values take the
// defaults.
func NewSessionPool(ttl, probeInterval time.Duration, m SessionMetrics) *SessionPool {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if probeInterval <= 0 {
		probeInterval = DefaultProbeInterval
	}
	return &SessionPool{
		sessions:      make(map[string]*session),
		ttl:           ttl,
		probeInterval: probeInterval,
		metrics:       m,
		now:           time.Now,
	}
}

// Acquire returns a session cookie for the client's appliance. The cookie
// was, at the moment of return, either freshly minted by a login or validated
// by a probe within the probe interval.
func (p *SessionPool) Acquire(ctx context.Context, c *Client) (string, error) {
	id := c.ApplianceID()
	now := p.now()

	p.mu.Lock()
	s := p.sessions[id]
	if s != nil && !s.expired(p.ttl, now) {
		if !s.needsProbe(p.probeInterval, now) {
			cookie := s.cookie
			p.mu.Unlock()
			if p.metrics != nil {
				p.metrics.RecordCacheHit(id)
			}
			return cookie, nil
		}
		cookie := s.cookie
		p.mu.Unlock()

		if p.probe(ctx, c, cookie) {
			p.mu.Lock()
			if cur := p.sessions[id]; cur != nil && cur.cookie == cookie {
				cur.lastValidatedAt = p.now()
			}
			p.mu.Unlock()
			if p.metrics != nil {
				p.metrics.RecordCacheHit(id)
			}
			return cookie, nil
		}
		p.Evict(id)
	} else {
		p.mu.Unlock()
	}

	return p.login(ctx, c)
}

// login performs the single-flight login. The leader runs detached from any
// one caller's deadline so its result remains useful to later callers;
// followers give up when their own context expires.
func (p *SessionPool) login(ctx context.Context, c *Client) (string, error) {
	id := c.ApplianceID()

	ch := p.group.DoChan(id, func() (any, error) {
		loginCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		cookie, err := p.doLogin(loginCtx, c)
		if p.metrics != nil {
			outcome := "ok"
			if err != nil {
				outcome = KindOf(err).String()
			}
			p.metrics.RecordLogin(id, outcome)
		}
		if err != nil {
			return nil, err
		}

		now := p.now()
		p.mu.Lock()
		p.sessions[id] = &session{cookie: cookie, createdAt: now, lastValidatedAt: now}
		p.mu.Unlock()
		return cookie, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &OpError{Kind: KindTimeout, Appliance: id, Op: "login", Message: "deadline exceeded while awaiting login", Err: ctx.Err()}
	}
}

// doLogin drives the appliance login form: fetch the form, scrape the
// anti-forgery token, post credentials with manual redirects, and judge the
// outcome by where the 302 points.
func (p *SessionPool) doLogin(ctx context.Context, c *Client) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/login", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do("login", req)
	if err != nil {
		return "", err
	}
	body := readBody(resp)
	token := ExtractCSRFToken(body)
	preCookie := sessionCookieFrom(resp)

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)
	if token != "" {
		form.Set("authenticity_token", token)
	}
	form.Set("commit", "Login")

	post, err := c.newRequest(ctx, http.MethodPost, "/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	post.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	withCookie(post, preCookie)

	resp, err = c.do("login", post)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusSeeOther:
		location := resp.Header.Get("Location")
		if isLoginLocation(location) {
			// Redirect loop back onto the login page: the known failure
			// mode for rejected credentials. Never retried blindly.
			return "", opErr(KindAuthFailed, c.applianceID, "login", "credentials rejected (redirected back to login page)")
		}
		cookie := sessionCookieFrom(resp)
		if cookie == "" {
			cookie = preCookie
		}
		if cookie == "" {
			return "", opErr(KindProtocolError, c.applianceID, "login", "login redirect carried no session cookie")
		}
		c.log.Debug("login succeeded", "location", location, logger.CookiePresent(cookie))
		return cookie, nil

	case resp.StatusCode == http.StatusOK:
		return "", opErr(KindAuthFailed, c.applianceID, "login", "credentials rejected (login form re-rendered)")

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", opErr(KindAuthFailed, c.applianceID, "login", "credentials rejected (%d)", resp.StatusCode)

	default:
		snippet := Snippet(string(readBody(resp)))
		return "", &OpError{
			Kind: KindUpstreamError, Appliance: c.applianceID, Op: "login",
			Message: "unexpected login response " + resp.Status, Snippet: snippet,
		}
	}
}

// probe cheaply checks whether a cookie is still honoured: HEAD the root and
// reject auth failures and login redirects.
func (p *SessionPool) probe(ctx context.Context, c *Client, cookie string) bool {
	req, err := c.newRequest(ctx, http.MethodHead, "/", nil)
	if err != nil {
		return false
	}
	withCookie(req, cookie)

	resp, err := c.do("probe", req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 && isLoginLocation(resp.Header.Get("Location")) {
		return false
	}
	return true
}

// Evict drops the cached session for an appliance. Called on TTL expiry, on
// downstream 401/403 and when a probe observes the login page.
func (p *SessionPool) Evict(applianceID string) {
	p.mu.Lock()
	delete(p.sessions, applianceID)
	p.mu.Unlock()
}

// Cached returns the cached cookie without touching the appliance; "" when
// the pool holds no live session. Intended for tests and introspection.
func (p *SessionPool) Cached(applianceID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.sessions[applianceID]
	if s == nil || s.expired(p.ttl, p.now()) {
		return ""
	}
	return s.cookie
}
