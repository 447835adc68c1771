package prosbc

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// The appliance's markup is not always well-formed, so scraping leans on the
// tolerant x/net/html parser and falls back to regular expressions where a
// parse tree is unavailable or the page variant hides values in attributes.

var (
	authTokenInputRe  = regexp.MustCompile(`name="authenticity_token"[^>]*value="([^"]+)"`)
	authTokenInputRe2 = regexp.MustCompile(`value="([^"]+)"[^>]*name="authenticity_token"`)
	csrfMetaRe        = regexp.MustCompile(`name="csrf-token"[^>]*content="([^"]+)"`)
	csrfMetaRe2       = regexp.MustCompile(`content="([^"]+)"[^>]*name="csrf-token"`)
	hiddenTokenRe     = regexp.MustCompile(`type="hidden"[^>]*value="([A-Za-z0-9+/=_-]{20,})"`)
	jsonTokenRe       = regexp.MustCompile(`authenticity_token["']?\s*[:=]\s*["']([^"']+)["']`)
	onclickTokenRe    = regexp.MustCompile(`onclick="[^"]*authenticity_token[^"]*'([A-Za-z0-9+/=_-]{20,})'`)

	fileHrefRe = regexp.MustCompile(`/file_dbs/(\d+)/(routesets_definitions|routesets_digitmaps)/(\d+)(/edit|/export)?`)
	flashRe    = regexp.MustCompile(`(notice|error):([^;"]*)`)
	fileDBIDRe = regexp.MustCompile(`/file_dbs/(\d+)`)
)

// ExtractCSRFToken locates the anti-forgery token in a page. The search is
// layered over the markup variants observed in the wild; an empty return is
// not fatal, some appliance builds accept token-less posts.
func ExtractCSRFToken(body []byte) string {
	s := string(body)
	for _, re := range []*regexp.Regexp{
		authTokenInputRe, authTokenInputRe2,
		csrfMetaRe, csrfMetaRe2,
		hiddenTokenRe,
		jsonTokenRe,
		onclickTokenRe,
	} {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	return ""
}

// DecodeFlash extracts the appliance's flash message from one raw Set-Cookie
// header value. The remote folds "notice:..." / "error:..." into the session
// cookie, URL-encoded with plus-as-space.
func DecodeFlash(setCookie string) (Flash, bool) {
	decoded := setCookie
	if unescaped, err := url.QueryUnescape(strings.ReplaceAll(setCookie, "+", "%20")); err == nil {
		decoded = unescaped
	}
	m := flashRe.FindStringSubmatch(decoded)
	if m == nil {
		return Flash{}, false
	}
	text := strings.TrimSpace(m[2])
	// The serialized session often continues after the message; cut at the
	// first non-printable byte.
	if i := strings.IndexFunc(text, func(r rune) bool { return r < 0x20 || r > 0x7e }); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	level := FlashNotice
	if m[1] == "error" {
		level = FlashError
	}
	return Flash{Level: level, Text: text}, true
}

// ParseFileTable extracts the file rows of the fieldset matching the given
// kind. Legend matching is layered: exact text, then normalized containment
// either way, then the first fieldset on the page. The last fallback covers
// appliance builds that render a single unlabeled section and must stay.
func ParseFileTable(body []byte, kind FileKind) []FileDescriptor {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		// html.Parse is documented to always return a tree; treat a failure
		// as an empty page.
		return nil
	}

	fieldsets := findAll(doc, "fieldset")
	if len(fieldsets) == 0 {
		return nil
	}

	target := matchFieldset(fieldsets, kind.Legend())
	if target == nil {
		target = fieldsets[0]
	}
	return parseRows(target, kind)
}

// matchFieldset applies the exact-then-normalized legend ladder.
func matchFieldset(fieldsets []*html.Node, legend string) *html.Node {
	for _, fs := range fieldsets {
		if legendText(fs) == legend {
			return fs
		}
	}
	want := normalizeLegend(legend)
	for _, fs := range fieldsets {
		got := normalizeLegend(legendText(fs))
		if got == "" {
			continue
		}
		if strings.Contains(got, want) || strings.Contains(want, got) {
			return fs
		}
	}
	return nil
}

func normalizeLegend(s string) string {
	s = strings.ReplaceAll(s, ":", "")
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}

func legendText(fieldset *html.Node) string {
	if l := findFirst(fieldset, "legend"); l != nil {
		return strings.TrimSpace(textContent(l))
	}
	return ""
}

// parseRows extracts one FileDescriptor per table row carrying action hrefs.
func parseRows(fieldset *html.Node, kind FileKind) []FileDescriptor {
	var files []FileDescriptor
	for _, tr := range findAll(fieldset, "tr") {
		fd := FileDescriptor{Kind: kind}

		cells := findAll(tr, "td")
		if len(cells) == 0 {
			continue // header row
		}
		fd.Name = strings.TrimSpace(textContent(cells[0]))

		for _, a := range findAll(tr, "a") {
			href := attr(a, "href")
			m := fileHrefRe.FindStringSubmatch(href)
			if m == nil {
				continue
			}
			fd.ConfigID, fd.ID = m[1], m[3]
			switch m[4] {
			case "/edit":
				fd.UpdateHref = href
			case "/export":
				fd.ExportHref = href
			default:
				fd.DeleteHref = href
			}
		}

		if fd.Name == "" || fd.ID == "" {
			continue
		}
		files = append(files, fd)
	}
	return files
}

// ParseConfigurations extracts the configuration entries from a chooser page:
// either <option> elements of the selector or links into /configurations/<id>.
func ParseConfigurations(body []byte) []Configuration {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var configs []Configuration
	seen := map[string]bool{}

	for _, opt := range findAll(doc, "option") {
		id := attr(opt, "value")
		if id == "" || !isNumeric(id) || seen[id] {
			continue
		}
		seen[id] = true
		configs = append(configs, Configuration{
			ID:     id,
			Name:   strings.TrimSpace(textContent(opt)),
			Active: attr(opt, "selected") != "" || hasAttr(opt, "selected"),
		})
	}
	if len(configs) > 0 {
		return configs
	}

	configLinkRe := regexp.MustCompile(`^/configurations/(\d+)`)
	for _, a := range findAll(doc, "a") {
		m := configLinkRe.FindStringSubmatch(attr(a, "href"))
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		configs = append(configs, Configuration{ID: m[1], Name: strings.TrimSpace(textContent(a))})
	}
	return configs
}

// FileDBIDFromLocation pulls the numeric file-database id out of a redirect
// Location like /file_dbs/3/edit; "" when absent.
func FileDBIDFromLocation(location string) string {
	if m := fileDBIDRe.FindStringSubmatch(location); m != nil {
		return m[1]
	}
	return ""
}

// HasRoutesetLegend reports whether a page carries either routeset fieldset,
// the marker that config selection took effect.
func HasRoutesetLegend(body []byte) bool {
	n := normalizeLegend(string(body))
	return strings.Contains(n, "routesets definition") || strings.Contains(n, "routesets digitmap")
}

// HasChooserMarkers reports whether a page is the configuration chooser,
// which appearing in place of the file-db page means selection did not take.
func HasChooserMarkers(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "configurations_list") || strings.Contains(s, "choose_redirect")
}

// ============================================================================
// DOM helpers
// ============================================================================

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == tag {
			out = append(out, node)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func findFirst(n *html.Node, tag string) *html.Node {
	if all := findAll(n, tag); len(all) > 0 {
		return all[0]
	}
	return nil
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
