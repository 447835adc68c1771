package prosbc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/telique/sbcfleet/internal/logger"
)

const (
	// DefaultOpTimeout is applied to public operations whose caller did not
	// set a deadline.
	DefaultOpTimeout = 30 * time.Second

	// DefaultListCacheTTL bounds reuse of scraped file listings.
	DefaultListCacheTTL = 5 * time.Minute

	listCacheSize = 512
)

// FileOpMetrics observes file operations. Pass nil to disable.
type FileOpMetrics interface {
	RecordFileOp(applianceID, op string, kind FileKind, outcome string, duration time.Duration)
}

// Options tunes the service; zero values take the documented defaults.
type Options struct {
	SessionTTL    time.Duration
	ProbeInterval time.Duration
	ConfigTTL     time.Duration
	ListTTL       time.Duration
	ProbeMax      int
	OpTimeout     time.Duration

	SessionMetrics SessionMetrics
	FileMetrics    FileOpMetrics
}

// Service is the ProSBC integration core: it ties the credential registry,
// the session pool and the config selector together and exposes the file
// operations the orchestrator builds on.
type Service struct {
	registry *Registry
	pool     *SessionPool
	selector *Selector
	lists    *expirable.LRU[string, []FileDescriptor]
	metrics  FileOpMetrics

	opTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*Client
}

// NewService creates the integration core over a registry.
func NewService(registry *Registry, opts Options) *Service {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	if opts.ListTTL <= 0 {
		opts.ListTTL = DefaultListCacheTTL
	}
	return &Service{
		registry:  registry,
		pool:      NewSessionPool(opts.SessionTTL, opts.ProbeInterval, opts.SessionMetrics),
		selector:  NewSelector(opts.ConfigTTL, opts.ProbeMax),
		lists:     expirable.NewLRU[string, []FileDescriptor](listCacheSize, nil, opts.ListTTL),
		metrics:   opts.FileMetrics,
		opTimeout: opts.OpTimeout,
		clients:   make(map[string]*Client),
	}
}

// Registry exposes the credential registry for collaborators.
func (s *Service) Registry() *Registry {
	return s.registry
}

// client returns (creating on first use) the HTTP client for an appliance.
func (s *Service) client(ctx context.Context, applianceID string) (*Client, error) {
	app, err := s.registry.Lookup(ctx, applianceID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[app.ID]; ok {
		return c, nil
	}
	c, err := NewClient(app)
	if err != nil {
		return nil, err
	}
	s.clients[app.ID] = c
	return c, nil
}

// withDeadline applies the default per-operation deadline when the caller
// did not bring one.
func (s *Service) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// begin acquires a session and ensures the desired configuration is chosen,
// recovering once from a session that expired between the probe and use.
func (s *Service) begin(ctx context.Context, applianceID, configRef string) (*Client, string, SelectedConfig, error) {
	c, err := s.client(ctx, applianceID)
	if err != nil {
		return nil, "", SelectedConfig{}, err
	}
	app, err := s.registry.Lookup(ctx, applianceID)
	if err != nil {
		return nil, "", SelectedConfig{}, err
	}

	cookie, err := s.pool.Acquire(ctx, c)
	if err != nil {
		return nil, "", SelectedConfig{}, err
	}

	cfg, err := s.selector.EnsureSelected(ctx, c, cookie, configRef, app.IsLegacyVariant())
	if err == nil {
		return c, cookie, cfg, nil
	}
	if !IsKind(err, KindSessionExpired) {
		return nil, "", SelectedConfig{}, err
	}

	// One eviction + re-login, then give up.
	s.pool.Evict(c.ApplianceID())
	s.selector.Invalidate(c.ApplianceID())
	cookie, err = s.pool.Acquire(ctx, c)
	if err != nil {
		return nil, "", SelectedConfig{}, err
	}
	cfg, err = s.selector.EnsureSelected(ctx, c, cookie, configRef, app.IsLegacyVariant())
	if err != nil {
		return nil, "", SelectedConfig{}, err
	}
	return c, cookie, cfg, nil
}

func (s *Service) record(applianceID, op string, kind FileKind, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	s.metrics.RecordFileOp(applianceID, op, kind, outcome, time.Since(start))
}

func listCacheKey(applianceID, dbID string, kind FileKind) string {
	return applianceID + "|" + dbID + "|" + string(kind)
}

// ListFiles scrapes the file table of the given kind from the selected
// configuration's file-database page. Listings are cached for a short TTL.
func (s *Service) ListFiles(ctx context.Context, applianceID, configRef string, kind FileKind) ([]FileDescriptor, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid file kind %q", kind)
	}
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	start := time.Now()

	files, _, err := s.list(ctx, applianceID, configRef, kind, true)
	s.record(applianceID, "list", kind, start, err)
	return files, err
}

// list is ListFiles plus the selection it ran under; allowCache=false forces
// a fresh scrape (used after uploads).
func (s *Service) list(ctx context.Context, applianceID, configRef string, kind FileKind, allowCache bool) ([]FileDescriptor, SelectedConfig, error) {
	c, cookie, cfg, err := s.begin(ctx, applianceID, configRef)
	if err != nil {
		return nil, SelectedConfig{}, err
	}

	key := listCacheKey(c.ApplianceID(), cfg.DBID, kind)
	if allowCache {
		if files, ok := s.lists.Get(key); ok {
			return files, cfg, nil
		}
	}

	body, err := s.fetchFileDB(ctx, c, cookie, cfg.DBID)
	if err != nil {
		return nil, SelectedConfig{}, err
	}
	files := ParseFileTable(body, kind)
	s.lists.Add(key, files)
	return files, cfg, nil
}

// fetchFileDB GETs the file-database page, retrying once through a fresh
// session when the appliance serves the login page instead.
func (s *Service) fetchFileDB(ctx context.Context, c *Client, cookie, dbID string) ([]byte, error) {
	body, err := s.fetchFileDBOnce(ctx, c, cookie, dbID)
	if err == nil || !IsKind(err, KindSessionExpired) {
		return body, err
	}

	s.pool.Evict(c.ApplianceID())
	cookie, aerr := s.pool.Acquire(ctx, c)
	if aerr != nil {
		return nil, aerr
	}
	return s.fetchFileDBOnce(ctx, c, cookie, dbID)
}

func (s *Service) fetchFileDBOnce(ctx context.Context, c *Client, cookie, dbID string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/file_dbs/%s/edit", dbID), nil)
	if err != nil {
		return nil, err
	}
	withCookie(req, cookie)

	resp, err := c.do("list", req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_ = resp.Body.Close()
		return nil, opErr(KindSessionExpired, c.ApplianceID(), "list", "session rejected (%d)", resp.StatusCode)
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		_ = resp.Body.Close()
		if isLoginLocation(location) {
			return nil, opErr(KindSessionExpired, c.ApplianceID(), "list", "redirected to login page")
		}
		return nil, opErr(KindProtocolError, c.ApplianceID(), "list", "unexpected redirect to %s", location)
	case resp.StatusCode != http.StatusOK:
		body := readBody(resp)
		return nil, &OpError{Kind: KindUpstreamError, Appliance: c.ApplianceID(), Op: "list",
			Message: "unexpected status " + resp.Status, Snippet: Snippet(string(body))}
	}

	body := readBody(resp)
	if looksLikeLoginPage(body) {
		return nil, opErr(KindSessionExpired, c.ApplianceID(), "list", "login page served mid-session")
	}
	return body, nil
}

// ExportFile streams the contents of one file. The caller owns the returned
// reader. A login page in place of the CSV surfaces as SessionExpired after
// one transparent re-login attempt.
func (s *Service) ExportFile(ctx context.Context, applianceID, configRef string, kind FileKind, fileID string) (io.ReadCloser, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid file kind %q", kind)
	}
	ctx, cancel := s.withDeadline(ctx)
	start := time.Now()

	rc, err := s.export(ctx, applianceID, configRef, kind, fileID)
	s.record(applianceID, "export", kind, start, err)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelReadCloser{ReadCloser: rc, cancel: cancel}, nil
}

func (s *Service) export(ctx context.Context, applianceID, configRef string, kind FileKind, fileID string) (io.ReadCloser, error) {
	c, cookie, cfg, err := s.begin(ctx, applianceID, configRef)
	if err != nil {
		return nil, err
	}

	rc, err := s.exportOnce(ctx, c, cookie, cfg, kind, fileID)
	if err == nil || !IsKind(err, KindSessionExpired) {
		return rc, err
	}

	s.pool.Evict(c.ApplianceID())
	cookie, aerr := s.pool.Acquire(ctx, c)
	if aerr != nil {
		return nil, aerr
	}
	return s.exportOnce(ctx, c, cookie, cfg, kind, fileID)
}

func (s *Service) exportOnce(ctx context.Context, c *Client, cookie string, cfg SelectedConfig, kind FileKind, fileID string) (io.ReadCloser, error) {
	path := fmt.Sprintf("/file_dbs/%s/%s/%s/export", cfg.DBID, kind, fileID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	withCookie(req, cookie)

	resp, err := c.do("export", req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, opErr(KindNotFound, c.ApplianceID(), "export", "file %s not found in db %s", fileID, cfg.DBID)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_ = resp.Body.Close()
		return nil, opErr(KindSessionExpired, c.ApplianceID(), "export", "session rejected (%d)", resp.StatusCode)
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		_ = resp.Body.Close()
		if isLoginLocation(location) {
			return nil, opErr(KindSessionExpired, c.ApplianceID(), "export", "redirected to login page")
		}
		return nil, opErr(KindProtocolError, c.ApplianceID(), "export", "unexpected redirect to %s", location)
	case resp.StatusCode != http.StatusOK:
		body := readBody(resp)
		return nil, &OpError{Kind: KindUpstreamError, Appliance: c.ApplianceID(), Op: "export",
			Message: "unexpected status " + resp.Status, Snippet: Snippet(string(body))}
	}

	// Not CSV: the appliance may have served an HTML page (typically the
	// login form) with a 200.
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(strings.ToLower(ct), "csv") {
		body := readBody(resp)
		if looksLikeLoginPage(body) || strings.Contains(string(body), "Login") {
			return nil, opErr(KindSessionExpired, c.ApplianceID(), "export", "login page served instead of file body")
		}
		return io.NopCloser(strings.NewReader(string(body))), nil
	}
	return resp.Body, nil
}

// cancelReadCloser releases the operation deadline when the stream closes.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// DeleteFile removes one file, addressed by id or name. The REST path is
// tried first; appliances without it get the form fallback.
func (s *Service) DeleteFile(ctx context.Context, applianceID, configRef string, kind FileKind, nameOrID string) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid file kind %q", kind)
	}
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	start := time.Now()
	err := s.delete(ctx, applianceID, configRef, kind, nameOrID)
	s.record(applianceID, "delete", kind, start, err)
	return err
}

func (s *Service) delete(ctx context.Context, applianceID, configRef string, kind FileKind, nameOrID string) error {
	files, cfg, err := s.list(ctx, applianceID, configRef, kind, true)
	if err != nil {
		return err
	}

	var target *FileDescriptor
	for i := range files {
		if files[i].ID == nameOrID || files[i].Name == nameOrID {
			target = &files[i]
			break
		}
	}
	if target == nil {
		norm := NormalizeName(nameOrID)
		for i := range files {
			if NormalizeName(files[i].Name) == norm {
				target = &files[i]
				break
			}
		}
	}
	if target == nil {
		return opErr(KindNotFound, applianceID, "delete", "file %q not found in db %s", nameOrID, cfg.DBID)
	}

	c, cookie, _, err := s.begin(ctx, applianceID, configRef)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/file_dbs/%s/%s/%s", cfg.DBID, kind, target.ID)

	// REST attempt.
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	c.withBasicAuth(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.do("delete", req)
	if err != nil {
		return err
	}
	status := resp.StatusCode
	_ = resp.Body.Close()

	switch {
	case status >= 200 && status < 300:
		s.invalidateList(c.ApplianceID(), cfg.DBID, kind)
		return nil
	case status == http.StatusNotFound:
		return opErr(KindNotFound, applianceID, "delete", "file %s already gone", target.ID)
	}

	// Form fallback: POST with the method override.
	form := "_method=delete"
	post, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(form))
	if err != nil {
		return err
	}
	post.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.withBasicAuth(post)
	withCookie(post, cookie)

	resp, err = c.do("delete", post)
	if err != nil {
		return err
	}
	body := readBody(resp)

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400 && isLoginLocation(resp.Header.Get("Location")):
		return opErr(KindSessionExpired, applianceID, "delete", "session expired during delete")
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		s.invalidateList(c.ApplianceID(), cfg.DBID, kind)
		c.log.Info("file deleted", "kind", string(kind), "file", target.Name, "db", cfg.DBID)
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return opErr(KindNotFound, applianceID, "delete", "file %s already gone", target.ID)
	default:
		return &OpError{Kind: KindUpstreamError, Appliance: applianceID, Op: "delete",
			Message: "unexpected status " + resp.Status, Snippet: Snippet(string(body))}
	}
}

func (s *Service) invalidateList(applianceID, dbID string, kind FileKind) {
	s.lists.Remove(listCacheKey(applianceID, dbID, kind))
}

// EvictSession drops the cached session for an appliance; exposed for the
// admin surface and tests.
func (s *Service) EvictSession(applianceID string) {
	s.pool.Evict(applianceID)
	s.selector.Invalidate(applianceID)
	logger.Debug("session evicted", "appliance", applianceID)
}
