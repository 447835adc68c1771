package prosbc

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultConfigCacheTTL bounds how long a validated selection is reused.
	DefaultConfigCacheTTL = 10 * time.Minute

	// DefaultProbeMax is the upper bound of the file-db id probe. Empirical;
	// overridable in configuration.
	DefaultProbeMax = 10

	selectorCacheSize = 256
)

// legacyMapping is the authoritative configuration table for the legacy
// prosbc1 variant, whose chooser HTML cannot be parsed reliably.
var legacyMapping = []SelectedConfig{
	{ID: "5", DBID: "3", Name: "config_1-BU"},
	{ID: "2", DBID: "2", Name: "config_052421-1"},
	{ID: "1", DBID: "1", Name: "config_301"},
}

// ResolveLegacyMapping resolves a configuration reference (numeric id, name,
// or "" for the default) against the built-in legacy table.
func ResolveLegacyMapping(ref string) (SelectedConfig, bool) {
	if ref == "" {
		return legacyMapping[0], true
	}
	for _, m := range legacyMapping {
		if m.ID == ref || strings.EqualFold(m.Name, ref) {
			return m, true
		}
	}
	return SelectedConfig{}, false
}

// Selector discovers and selects configurations on appliances and resolves
// the file-database id each selection maps to. Validated selections are
// cached per (appliance, ref) for a short TTL.
type Selector struct {
	cache    *expirable.LRU[string, SelectedConfig]
	probeMax int
}

// NewSelector creates a selector; zero values take the defaults.
func NewSelector(cacheTTL time.Duration, probeMax int) *Selector {
	if cacheTTL <= 0 {
		cacheTTL = DefaultConfigCacheTTL
	}
	if probeMax <= 0 {
		probeMax = DefaultProbeMax
	}
	return &Selector{
		cache:    expirable.NewLRU[string, SelectedConfig](selectorCacheSize, nil, cacheTTL),
		probeMax: probeMax,
	}
}

func cacheKey(applianceID, ref string) string {
	return applianceID + "|" + ref
}

// Invalidate drops every cached selection for an appliance.
func (s *Selector) Invalidate(applianceID string) {
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, applianceID+"|") {
			s.cache.Remove(key)
		}
	}
}

// EnsureSelected makes sure the session has the desired configuration chosen
// and returns the validated (id, dbId) pair. ref may be a numeric id, a name
// like "config_052421-1", or "" meaning any active / first configuration.
func (s *Selector) EnsureSelected(ctx context.Context, c *Client, cookie string, ref string, legacy bool) (SelectedConfig, error) {
	key := cacheKey(c.ApplianceID(), ref)
	if cfg, ok := s.cache.Get(key); ok {
		return cfg, nil
	}

	var cfg SelectedConfig
	var chosen bool // a config is already in effect for this session
	var err error

	if legacy {
		mapped, ok := ResolveLegacyMapping(ref)
		if !ok {
			return SelectedConfig{}, opErr(KindNotFound, c.ApplianceID(), "select",
				"configuration %q not in the legacy mapping", ref)
		}
		cfg = mapped
	} else {
		cfg, chosen, err = s.discover(ctx, c, cookie, ref)
		if err != nil {
			return SelectedConfig{}, err
		}
	}

	if !chosen {
		if err := s.choose(ctx, c, cookie, cfg.ID); err != nil {
			return SelectedConfig{}, err
		}
	}

	validated, err := s.validate(ctx, c, cookie, cfg)
	if err != nil {
		return SelectedConfig{}, err
	}

	s.cache.Add(key, validated)
	return validated, nil
}

// discover resolves the desired reference against the appliance's chooser
// page. A 302 from /file_dbs means a configuration is already chosen for the
// session; its file-db id is taken from the Location.
func (s *Selector) discover(ctx context.Context, c *Client, cookie, ref string) (SelectedConfig, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/file_dbs", nil)
	if err != nil {
		return SelectedConfig{}, false, err
	}
	withCookie(req, cookie)

	resp, err := c.do("discover", req)
	if err != nil {
		return SelectedConfig{}, false, err
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		_ = resp.Body.Close()
		location := resp.Header.Get("Location")
		if isLoginLocation(location) {
			return SelectedConfig{}, false, opErr(KindSessionExpired, c.ApplianceID(), "discover", "redirected to login page")
		}
		if dbID := FileDBIDFromLocation(location); dbID != "" && ref == "" {
			return SelectedConfig{ID: dbID, DBID: dbID}, true, nil
		}
		// A specific ref was asked for; fall through to the chooser page.
		return s.discoverFromChooser(ctx, c, cookie, ref)
	}

	body := readBody(resp)
	if looksLikeLoginPage(body) {
		return SelectedConfig{}, false, opErr(KindSessionExpired, c.ApplianceID(), "discover", "login page served mid-session")
	}
	return s.resolveRef(c, ParseConfigurations(body), ref)
}

func (s *Selector) discoverFromChooser(ctx context.Context, c *Client, cookie, ref string) (SelectedConfig, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/configurations", nil)
	if err != nil {
		return SelectedConfig{}, false, err
	}
	withCookie(req, cookie)

	resp, err := c.do("discover", req)
	if err != nil {
		return SelectedConfig{}, false, err
	}
	body := readBody(resp)
	return s.resolveRef(c, ParseConfigurations(body), ref)
}

// resolveRef picks the configuration matching ref out of the parsed list.
func (s *Selector) resolveRef(c *Client, configs []Configuration, ref string) (SelectedConfig, bool, error) {
	if len(configs) == 0 {
		return SelectedConfig{}, false, opErr(KindProtocolError, c.ApplianceID(), "discover", "no configurations found on chooser page")
	}

	pick := func(cfg Configuration) (SelectedConfig, bool, error) {
		return SelectedConfig{ID: cfg.ID, DBID: cfg.ID, Name: cfg.Name}, false, nil
	}

	if ref == "" {
		for _, cfg := range configs {
			if cfg.Active {
				return pick(cfg)
			}
		}
		return pick(configs[0])
	}
	if _, err := strconv.Atoi(ref); err == nil {
		for _, cfg := range configs {
			if cfg.ID == ref {
				return pick(cfg)
			}
		}
	}
	for _, cfg := range configs {
		if strings.EqualFold(cfg.Name, ref) {
			return pick(cfg)
		}
	}
	return SelectedConfig{}, false, opErr(KindNotFound, c.ApplianceID(), "discover", "configuration %q not found", ref)
}

// choose posts the chooser form for the configuration id. A redirect cycling
// back onto /configurations means the choice did not take.
func (s *Selector) choose(ctx context.Context, c *Client, cookie, configID string) error {
	path := fmt.Sprintf("/configurations/%s/choose_redirect", configID)
	req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(""))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	withCookie(req, cookie)

	resp, err := c.do("choose", req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		if isLoginLocation(location) {
			return opErr(KindSessionExpired, c.ApplianceID(), "choose", "redirected to login page")
		}
		if strings.Contains(location, "/configurations") {
			return opErr(KindProtocolError, c.ApplianceID(), "choose",
				"choose_redirect cycled back to chooser (%s)", location)
		}
		return nil
	default:
		return opErr(KindUpstreamError, c.ApplianceID(), "choose", "unexpected status %s", resp.Status)
	}
}

// validate confirms the file-db page for the selection actually shows the
// routeset fieldsets, probing alternative file-db ids when it does not. A
// probe hit overrides whatever the earlier resolution said.
func (s *Selector) validate(ctx context.Context, c *Client, cookie string, cfg SelectedConfig) (SelectedConfig, error) {
	ok, err := s.checkFileDB(ctx, c, cookie, cfg.DBID)
	if err != nil {
		return SelectedConfig{}, err
	}
	if ok {
		return cfg, nil
	}

	for i := 1; i <= s.probeMax; i++ {
		dbID := strconv.Itoa(i)
		if dbID == cfg.DBID {
			continue
		}
		ok, err := s.checkFileDB(ctx, c, cookie, dbID)
		if err != nil {
			if IsKind(err, KindSessionExpired) || IsKind(err, KindTimeout) {
				return SelectedConfig{}, err
			}
			continue
		}
		if ok {
			cfg.DBID = dbID
			return cfg, nil
		}
	}

	return SelectedConfig{}, opErr(KindConfigSelectionFailed, c.ApplianceID(), "select",
		"no file database in 1..%d shows the routeset sections for config %s", s.probeMax, cfg.ID)
}

// checkFileDB fetches /file_dbs/<id>/edit and reports whether it is the real
// file-database page (routeset legends present, chooser markers absent).
func (s *Selector) checkFileDB(ctx context.Context, c *Client, cookie, dbID string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/file_dbs/%s/edit", dbID), nil)
	if err != nil {
		return false, err
	}
	withCookie(req, cookie)

	resp, err := c.do("validate", req)
	if err != nil {
		return false, err
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		_ = resp.Body.Close()
		if isLoginLocation(resp.Header.Get("Location")) {
			return false, opErr(KindSessionExpired, c.ApplianceID(), "validate", "redirected to login page")
		}
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return false, nil
	}

	body := readBody(resp)
	if looksLikeLoginPage(body) {
		return false, opErr(KindSessionExpired, c.ApplianceID(), "validate", "login page served mid-session")
	}
	return HasRoutesetLegend(body) && !HasChooserMarkers(body), nil
}
