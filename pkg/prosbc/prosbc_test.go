package prosbc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telique/sbcfleet/pkg/fleet/models"
)

// fakeSBC emulates the ProSBC web UI: cookie login with a CSRF token, a
// configuration chooser, per-configuration file databases, the CSV import
// form and the JSON file endpoint. Behavior toggles let tests force the
// degraded variants.
type fakeSBC struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	username   string
	password   string
	loginCount int
	seq        int
	cookies    map[string]bool
	chosen     map[string]string // cookie -> config id

	configs []Configuration
	dbFor   map[string]string // config id -> file-db id
	files   map[string]map[FileKind][]fakeFile

	// toggles
	failREST     bool // JSON PUT answers 500
	denyDelete   bool // DELETE answers 405, forcing the form fallback
	staleExports map[string]string // file key -> stale body served on export
}

type fakeFile struct {
	id      string
	name    string
	content string
}

func fileKey(dbID string, kind FileKind, id string) string {
	return dbID + "/" + string(kind) + "/" + id
}

func newFakeSBC(t *testing.T) *fakeSBC {
	f := &fakeSBC{
		t:        t,
		username: "admin",
		password: "hunter2",
		cookies:  map[string]bool{},
		chosen:   map[string]string{},
		configs: []Configuration{
			{ID: "1", Name: "config_301"},
			{ID: "3", Name: "config_main", Active: true},
		},
		dbFor: map[string]string{"1": "1", "3": "3"},
		files: map[string]map[FileKind][]fakeFile{
			"3": {
				FileKindDefinition: {{id: "7", name: "routes.csv", content: "called,calling\n100,200\n"}},
				FileKindDigitMap:   {{id: "9", name: "dm-ACME.csv", content: "number\n5551000\n5551001\n"}},
			},
		},
		staleExports: map[string]string{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSBC) appliance(id string) *models.Appliance {
	return &models.Appliance{
		ID:       id,
		BaseURL:  f.srv.URL,
		Username: f.username,
		Password: f.password,
		Active:   true,
	}
}

func (f *fakeSBC) client(t *testing.T) *Client {
	c, err := NewClient(f.appliance("sbc-test"))
	require.NoError(t, err)
	return c
}

func (f *fakeSBC) logins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCount
}

func (f *fakeSBC) expire(cookie string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cookies, cookie)
}

func (f *fakeSBC) authed(r *http.Request) (string, bool) {
	ck, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return ck.Value, f.cookies[ck.Value]
}

func (f *fakeSBC) basicAuthed(r *http.Request) bool {
	u, p, ok := r.BasicAuth()
	return ok && u == f.username && p == f.password
}

const fakeToken = "dGVzdHRva2VuMTIzNDU2Nzg5MGFiY2RlZg=="

func loginPage() string {
	return `<html><body><form action="/login" method="post">
<input name="authenticity_token" type="hidden" value="` + fakeToken + `"/>
<input name="username"/><input name="password" type="password"/>
</form></body></html>`
}

func (f *fakeSBC) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/login" && r.Method == http.MethodGet:
		http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: "pre-login"})
		_, _ = io.WriteString(w, loginPage())

	case r.URL.Path == "/login" && r.Method == http.MethodPost:
		_ = r.ParseForm()
		f.mu.Lock()
		f.loginCount++
		ok := r.PostFormValue("username") == f.username && r.PostFormValue("password") == f.password
		if !ok {
			f.mu.Unlock()
			w.Header().Set("Location", "/login")
			w.WriteHeader(http.StatusFound)
			return
		}
		f.seq++
		cookie := fmt.Sprintf("sess-%d", f.seq)
		f.cookies[cookie] = true
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: cookie})
		w.Header().Set("Location", "/configurations")
		w.WriteHeader(http.StatusFound)

	case r.URL.Path == "/" && r.Method == http.MethodHead:
		if _, ok := f.authed(r); !ok {
			w.Header().Set("Location", "/login")
			w.WriteHeader(http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		f.handleAuthed(w, r)
	}
}

func (f *fakeSBC) handleAuthed(w http.ResponseWriter, r *http.Request) {
	// The JSON endpoints authenticate with basic auth, everything else with
	// the session cookie.
	rest := r.Method == http.MethodDelete ||
		(r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/configurations/"))

	cookie, authed := f.authed(r)
	if rest {
		if !f.basicAuthed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	} else if !authed {
		w.Header().Set("Location", "/login")
		w.WriteHeader(http.StatusFound)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/file_dbs" && r.Method == http.MethodGet:
		f.mu.Lock()
		chosen := f.chosen[cookie]
		f.mu.Unlock()
		if chosen != "" {
			w.Header().Set("Location", "/file_dbs/"+f.dbFor[chosen]+"/edit")
			w.WriteHeader(http.StatusFound)
			return
		}
		_, _ = io.WriteString(w, f.chooserPage())

	case r.URL.Path == "/configurations" && r.Method == http.MethodGet:
		_, _ = io.WriteString(w, f.chooserPage())

	case len(parts) == 3 && parts[0] == "configurations" && parts[2] == "choose_redirect" && r.Method == http.MethodPost:
		id := parts[1]
		if _, ok := f.dbFor[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.mu.Lock()
		f.chosen[cookie] = id
		f.mu.Unlock()
		w.Header().Set("Location", "/file_dbs/"+f.dbFor[id]+"/edit")
		w.WriteHeader(http.StatusFound)

	case len(parts) == 3 && parts[0] == "file_dbs" && parts[2] == "edit" && r.Method == http.MethodGet:
		f.mu.Lock()
		kinds, ok := f.files[parts[1]]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, f.fileDBPage(parts[1], kinds))

	case len(parts) == 5 && parts[0] == "file_dbs" && parts[4] == "export" && r.Method == http.MethodGet:
		f.serveExport(w, parts[1], FileKind(parts[2]), r.URL.Path)

	case len(parts) == 6 && parts[0] == "configurations" && parts[2] == "file_dbs" && r.Method == http.MethodPut:
		f.serveRESTUpdate(w, r, parts[3], FileKind(parts[4]), parts[5])

	case len(parts) == 3 && parts[0] == "file_dbs" && r.Method == http.MethodPost:
		f.serveImport(w, r, parts[1], FileKind(parts[2]), "")

	case len(parts) == 4 && parts[0] == "file_dbs" && r.Method == http.MethodPost:
		f.serveImport(w, r, parts[1], FileKind(parts[2]), parts[3])

	case len(parts) == 4 && parts[0] == "file_dbs" && r.Method == http.MethodDelete:
		if f.denyDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		f.serveDelete(w, parts[1], FileKind(parts[2]), parts[3])

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeSBC) chooserPage() string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="configurations_list"><select name="configuration">`)
	for _, cfg := range f.configs {
		sel := ""
		if cfg.Active {
			sel = " selected"
		}
		fmt.Fprintf(&b, `<option value="%s"%s>%s</option>`, cfg.ID, sel, cfg.Name)
	}
	b.WriteString(`</select></div></body></html>`)
	return b.String()
}

func (f *fakeSBC) fileDBPage(dbID string, kinds map[FileKind][]fakeFile) string {
	var b strings.Builder
	b.WriteString(`<html><body><form><input name="authenticity_token" type="hidden" value="` + fakeToken + `"/></form>`)
	for _, kind := range []FileKind{FileKindDefinition, FileKindDigitMap} {
		fmt.Fprintf(&b, `<fieldset><legend>%s</legend><table><tr><th>Name</th><th>Actions</th></tr>`, kind.Legend())
		for _, ff := range kinds[kind] {
			base := fmt.Sprintf("/file_dbs/%s/%s/%s", dbID, kind, ff.id)
			fmt.Fprintf(&b, `<tr><td>%s</td><td><a href="%s/edit">Update</a> <a href="%s/export">Export</a> <a href="%s">Delete</a></td></tr>`,
				ff.name, base, base, base)
		}
		b.WriteString(`</table></fieldset>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func (f *fakeSBC) serveExport(w http.ResponseWriter, dbID string, kind FileKind, path string) {
	id := strings.TrimSuffix(strings.TrimPrefix(path, fmt.Sprintf("/file_dbs/%s/%s/", dbID, kind)), "/export")
	f.mu.Lock()
	defer f.mu.Unlock()
	if stale, ok := f.staleExports[fileKey(dbID, kind, id)]; ok {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, stale)
		return
	}
	for _, ff := range f.files[dbID][kind] {
		if ff.id == id {
			w.Header().Set("Content-Type", "text/csv")
			_, _ = io.WriteString(w, ff.content)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (f *fakeSBC) serveRESTUpdate(w http.ResponseWriter, r *http.Request, dbID string, kind FileKind, id string) {
	if f.failREST {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	body, _ := io.ReadAll(r.Body)
	payload := struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}{}
	require.NoError(f.t, json.Unmarshal(body, &payload))

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ff := range f.files[dbID][kind] {
		if ff.id == id {
			f.files[dbID][kind][i].content = payload.Content
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"ok"}`)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (f *fakeSBC) serveImport(w http.ResponseWriter, r *http.Request, dbID string, kind FileKind, id string) {
	ct := r.Header.Get("Content-Type")

	// Form fallback delete carries the Rails method override.
	if strings.Contains(ct, "application/x-www-form-urlencoded") {
		_ = r.ParseForm()
		if r.PostFormValue("_method") == "delete" {
			f.serveDelete(w, dbID, kind, id)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	require.NoError(f.t, r.ParseMultipartForm(8<<20))
	field := kind.FormField()
	file, header, err := r.FormFile(field + "[file]")
	require.NoError(f.t, err)
	content, _ := io.ReadAll(file)
	_ = file.Close()
	name := header.Filename

	if r.FormValue("authenticity_token") != fakeToken {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if r.FormValue("_method") == "put" {
		target := r.FormValue(field + "[id]")
		for i, ff := range f.files[dbID][kind] {
			if ff.id == target {
				f.files[dbID][kind][i].content = string(content)
				f.flashRedirect(w, dbID, "notice%3A+File+was+successfully+updated")
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}

	for _, ff := range f.files[dbID][kind] {
		if ff.name == name {
			f.flashRedirect(w, dbID, "error%3A+Name+has+already+been+taken")
			return
		}
	}
	f.seq++
	if f.files[dbID] == nil {
		f.files[dbID] = map[FileKind][]fakeFile{}
	}
	f.files[dbID][kind] = append(f.files[dbID][kind], fakeFile{
		id:      fmt.Sprintf("%d", 100+f.seq),
		name:    name,
		content: string(content),
	})
	f.flashRedirect(w, dbID, "notice%3A+File+was+successfully+created")
}

// flashRedirect answers an import POST the way the appliance does: a 302
// back to the file-db page with the flash folded into the session cookie.
func (f *fakeSBC) flashRedirect(w http.ResponseWriter, dbID, encodedFlash string) {
	w.Header().Add("Set-Cookie", SessionCookieName+"="+encodedFlash+"; path=/")
	w.Header().Set("Location", "/file_dbs/"+dbID+"/edit")
	w.WriteHeader(http.StatusFound)
}

func (f *fakeSBC) serveDelete(w http.ResponseWriter, dbID string, kind FileKind, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ff := range f.files[dbID][kind] {
		if ff.id == id {
			f.files[dbID][kind] = append(f.files[dbID][kind][:i], f.files[dbID][kind][i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}
