package prosbc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acquire(t *testing.T, c *Client) string {
	t.Helper()
	cookie, err := NewSessionPool(0, 0, nil).Acquire(context.Background(), c)
	require.NoError(t, err)
	return cookie
}

func TestResolveLegacyMapping(t *testing.T) {
	tests := []struct {
		ref    string
		wantID string
		wantDB string
		ok     bool
	}{
		{"", "5", "3", true},
		{"5", "5", "3", true},
		{"config_1-BU", "5", "3", true},
		{"CONFIG_1-bu", "5", "3", true},
		{"2", "2", "2", true},
		{"config_052421-1", "2", "2", true},
		{"1", "1", "1", true},
		{"config_301", "1", "1", true},
		{"config_999", "", "", false},
	}
	for _, tt := range tests {
		t.Run("ref="+tt.ref, func(t *testing.T) {
			cfg, ok := ResolveLegacyMapping(tt.ref)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.wantID, cfg.ID)
				assert.Equal(t, tt.wantDB, cfg.DBID)
			}
		})
	}
}

func TestSelectorChoosesActiveConfig(t *testing.T) {
	fake := newFakeSBC(t)
	c := fake.client(t)
	cookie := acquire(t, c)

	sel := NewSelector(0, 0)
	cfg, err := sel.EnsureSelected(context.Background(), c, cookie, "", false)
	require.NoError(t, err)
	assert.Equal(t, "3", cfg.ID, "active configuration wins when no ref is given")
	assert.Equal(t, "3", cfg.DBID)
}

func TestSelectorByName(t *testing.T) {
	fake := newFakeSBC(t)
	// config_301's file db (id 1) has no files registered: selection must
	// recover through the probe only if validation fails. Register it so the
	// happy path holds.
	fake.files["1"] = map[FileKind][]fakeFile{
		FileKindDefinition: {{id: "2", name: "old.csv", content: "a\n"}},
	}
	c := fake.client(t)
	cookie := acquire(t, c)

	sel := NewSelector(0, 0)
	cfg, err := sel.EnsureSelected(context.Background(), c, cookie, "config_301", false)
	require.NoError(t, err)
	assert.Equal(t, "1", cfg.ID)
	assert.Equal(t, "1", cfg.DBID)
}

func TestSelectorUnknownRef(t *testing.T) {
	fake := newFakeSBC(t)
	c := fake.client(t)
	cookie := acquire(t, c)

	sel := NewSelector(0, 0)
	_, err := sel.EnsureSelected(context.Background(), c, cookie, "config_nope", false)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound), "got %v", err)
}

func TestSelectorProbeRecoversMisselection(t *testing.T) {
	fake := newFakeSBC(t)
	// The appliance maps config 3 to file-db 5, not 3: the naive id==dbId
	// assumption is wrong and only the probe can find the real page.
	fake.dbFor["3"] = "5"
	fake.files["5"] = fake.files["3"]
	delete(fake.files, "3")

	c := fake.client(t)
	cookie := acquire(t, c)

	sel := NewSelector(0, 0)
	cfg, err := sel.EnsureSelected(context.Background(), c, cookie, "", false)
	require.NoError(t, err)
	assert.Equal(t, "3", cfg.ID)
	assert.Equal(t, "5", cfg.DBID, "probe must override the assumed db id")
}

func TestSelectorProbeExhaustion(t *testing.T) {
	fake := newFakeSBC(t)
	delete(fake.files, "3") // no file db anywhere shows the routeset sections

	c := fake.client(t)
	cookie := acquire(t, c)

	sel := NewSelector(0, 3)
	_, err := sel.EnsureSelected(context.Background(), c, cookie, "", false)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfigSelectionFailed), "got %v", err)
}

func TestSelectorCachesValidatedSelection(t *testing.T) {
	fake := newFakeSBC(t)
	c := fake.client(t)
	cookie := acquire(t, c)

	sel := NewSelector(0, 0)
	first, err := sel.EnsureSelected(context.Background(), c, cookie, "", false)
	require.NoError(t, err)

	// Break the appliance; the cached selection must still be served.
	delete(fake.files, "3")
	second, err := sel.EnsureSelected(context.Background(), c, cookie, "", false)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	sel.Invalidate(c.ApplianceID())
	_, err = sel.EnsureSelected(context.Background(), c, cookie, "", false)
	require.Error(t, err)
}

func TestSelectorAlreadyChosenSession(t *testing.T) {
	fake := newFakeSBC(t)
	c := fake.client(t)
	cookie := acquire(t, c)

	// First selection leaves the session with a chosen config; a second
	// selector starting cold must pick that up from the /file_dbs redirect.
	_, err := NewSelector(0, 0).EnsureSelected(context.Background(), c, cookie, "", false)
	require.NoError(t, err)

	cfg, err := NewSelector(0, 0).EnsureSelected(context.Background(), c, cookie, "", false)
	require.NoError(t, err)
	assert.Equal(t, "3", cfg.DBID)
}

func TestSelectorExpiredSession(t *testing.T) {
	fake := newFakeSBC(t)
	c := fake.client(t)
	cookie := acquire(t, c)
	fake.expire(cookie)

	sel := NewSelector(0, 0)
	_, err := sel.EnsureSelected(context.Background(), c, cookie, "", false)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSessionExpired), "got %v", err)
}

func TestSelectorLegacySkipsDiscovery(t *testing.T) {
	fake := newFakeSBC(t)
	// The legacy mapping points config 5 at file-db 3, which this fake
	// serves. No chooser interaction may be needed beyond the choose post.
	fake.dbFor["5"] = "3"
	c := fake.client(t)
	cookie := acquire(t, c)

	sel := NewSelector(0, 0)
	cfg, err := sel.EnsureSelected(context.Background(), c, cookie, "", true)
	require.NoError(t, err)
	assert.Equal(t, "5", cfg.ID)
	assert.Equal(t, "3", cfg.DBID)
	assert.Equal(t, "config_1-BU", cfg.Name)
}
