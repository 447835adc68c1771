package prosbc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCSRFToken(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "hidden input",
			body: `<input name="authenticity_token" type="hidden" value="abc123"/>`,
			want: "abc123",
		},
		{
			name: "hidden input reversed attributes",
			body: `<input type="hidden" value="abc123" name="authenticity_token"/>`,
			want: "abc123",
		},
		{
			name: "meta tag",
			body: `<meta name="csrf-token" content="meta-token-value"/>`,
			want: "meta-token-value",
		},
		{
			name: "meta tag reversed attributes",
			body: `<meta content="meta-token-value" name="csrf-token"/>`,
			want: "meta-token-value",
		},
		{
			name: "anonymous hidden field",
			body: `<input type="hidden" value="dGVzdHRva2VuMTIzNDU2Nzg5MGFiY2RlZg=="/>`,
			want: "dGVzdHRva2VuMTIzNDU2Nzg5MGFiY2RlZg==",
		},
		{
			name: "inline javascript assignment",
			body: `<script>var authenticity_token = "js-token";</script>`,
			want: "js-token",
		},
		{
			name: "onclick handler",
			body: `<a onclick="post('/x', {authenticity_token: 'QWxhZGRpbjpvcGVuIHNlc2FtZTEyMw=='})">go</a>`,
			want: "QWxhZGRpbjpvcGVuIHNlc2FtZTEyMw==",
		},
		{
			name: "absent",
			body: `<html><body>nothing here</body></html>`,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCSRFToken([]byte(tt.body)))
		})
	}
}

func TestDecodeFlash(t *testing.T) {
	tests := []struct {
		name      string
		setCookie string
		wantLevel FlashLevel
		wantText  string
		wantOK    bool
	}{
		{
			name:      "notice",
			setCookie: "_WebOAMP_session=notice%3A+File+was+successfully+created; path=/",
			wantLevel: FlashNotice,
			wantText:  "File was successfully created",
			wantOK:    true,
		},
		{
			name:      "error",
			setCookie: "_WebOAMP_session=error%3A+Name+has+already+been+taken",
			wantLevel: FlashError,
			wantText:  "Name has already been taken",
			wantOK:    true,
		},
		{
			name:      "no flash",
			setCookie: "_WebOAMP_session=BAh7ByIPc2Vzc2lvbl9pZA",
			wantOK:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flash, ok := DecodeFlash(tt.setCookie)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantLevel, flash.Level)
				assert.Equal(t, tt.wantText, flash.Text)
			}
		})
	}
}

const fileDBFixture = `<html><body>
<fieldset><legend>Routesets Definition:</legend>
<table>
<tr><th>Name</th><th>Actions</th></tr>
<tr><td>routes.csv</td><td>
  <a href="/file_dbs/3/routesets_definitions/7/edit">Update</a>
  <a href="/file_dbs/3/routesets_definitions/7/export">Export</a>
  <a href="/file_dbs/3/routesets_definitions/7">Delete</a>
</td></tr>
</table></fieldset>
<fieldset><legend>Routesets Digitmap:</legend>
<table>
<tr><th>Name</th><th>Actions</th></tr>
<tr><td>dm-ACME.csv</td><td>
  <a href="/file_dbs/3/routesets_digitmaps/9/export">Export</a>
  <a href="/file_dbs/3/routesets_digitmaps/9">Delete</a>
</td></tr>
<tr><td>dm-Other.csv</td><td>
  <a href="/file_dbs/3/routesets_digitmaps/11/export">Export</a>
</td></tr>
</table></fieldset>
</body></html>`

func TestParseFileTable(t *testing.T) {
	defs := ParseFileTable([]byte(fileDBFixture), FileKindDefinition)
	require.Len(t, defs, 1)
	assert.Equal(t, "routes.csv", defs[0].Name)
	assert.Equal(t, "7", defs[0].ID)
	assert.Equal(t, "3", defs[0].ConfigID)
	assert.Equal(t, "/file_dbs/3/routesets_definitions/7/edit", defs[0].UpdateHref)
	assert.Equal(t, "/file_dbs/3/routesets_definitions/7/export", defs[0].ExportHref)
	assert.Equal(t, "/file_dbs/3/routesets_definitions/7", defs[0].DeleteHref)

	dms := ParseFileTable([]byte(fileDBFixture), FileKindDigitMap)
	require.Len(t, dms, 2)
	assert.Equal(t, "dm-ACME.csv", dms[0].Name)
	assert.Equal(t, "9", dms[0].ID)
	assert.Equal(t, "dm-Other.csv", dms[1].Name)
}

func TestParseFileTableLegendVariants(t *testing.T) {
	// Some builds drop the colon or change the casing; containment after
	// normalization must still find the section.
	variant := `<html><body>
<fieldset><legend>  routesets   DEFINITION </legend>
<table><tr><td>a.csv</td><td><a href="/file_dbs/1/routesets_definitions/4/export">e</a></td></tr></table>
</fieldset></body></html>`
	files := ParseFileTable([]byte(variant), FileKindDefinition)
	require.Len(t, files, 1)
	assert.Equal(t, "a.csv", files[0].Name)
	assert.Equal(t, "4", files[0].ID)
}

func TestParseFileTableUnlabeledFallback(t *testing.T) {
	unlabeled := `<html><body>
<fieldset>
<table><tr><td>only.csv</td><td><a href="/file_dbs/2/routesets_digitmaps/5/export">e</a></td></tr></table>
</fieldset></body></html>`
	files := ParseFileTable([]byte(unlabeled), FileKindDigitMap)
	require.Len(t, files, 1)
	assert.Equal(t, "only.csv", files[0].Name)
}

func TestParseFileTableSkipsIncompleteRows(t *testing.T) {
	page := `<html><body><fieldset><legend>Routesets Definition:</legend>
<table>
<tr><th>Name</th></tr>
<tr><td>no-links.csv</td><td>pending</td></tr>
<tr><td></td><td><a href="/file_dbs/1/routesets_definitions/8/export">e</a></td></tr>
</table></fieldset></body></html>`
	assert.Empty(t, ParseFileTable([]byte(page), FileKindDefinition))
}

func TestParseConfigurations(t *testing.T) {
	options := `<select><option value="1">config_301</option>
<option value="3" selected>config_main</option>
<option value="">choose...</option></select>`
	configs := ParseConfigurations([]byte(options))
	require.Len(t, configs, 2)
	assert.Equal(t, "1", configs[0].ID)
	assert.False(t, configs[0].Active)
	assert.Equal(t, "config_main", configs[1].Name)
	assert.True(t, configs[1].Active)

	links := `<ul><li><a href="/configurations/2">config_052421-1</a></li>
<li><a href="/configurations/2">dup</a></li>
<li><a href="/configurations/5/edit">config_1-BU</a></li></ul>`
	configs = ParseConfigurations([]byte(links))
	require.Len(t, configs, 2)
	assert.Equal(t, "2", configs[0].ID)
	assert.Equal(t, "config_052421-1", configs[0].Name)
	assert.Equal(t, "5", configs[1].ID)
}

func TestFileDBIDFromLocation(t *testing.T) {
	assert.Equal(t, "3", FileDBIDFromLocation("/file_dbs/3/edit"))
	assert.Equal(t, "12", FileDBIDFromLocation("https://sbc.example.com/file_dbs/12"))
	assert.Equal(t, "", FileDBIDFromLocation("/configurations"))
	assert.Equal(t, "", FileDBIDFromLocation(""))
}

func TestHasRoutesetLegend(t *testing.T) {
	assert.True(t, HasRoutesetLegend([]byte(fileDBFixture)))
	assert.False(t, HasRoutesetLegend([]byte("<html><body>chooser</body></html>")))
}

func TestHasChooserMarkers(t *testing.T) {
	assert.True(t, HasChooserMarkers([]byte(`<div id="configurations_list"></div>`)))
	assert.True(t, HasChooserMarkers([]byte(`<form action="/configurations/3/choose_redirect">`)))
	assert.False(t, HasChooserMarkers([]byte(fileDBFixture)))
}
