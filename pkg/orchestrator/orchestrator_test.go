package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telique/sbcfleet/pkg/fleet/models"
	"github.com/telique/sbcfleet/pkg/fleet/store"
	"github.com/telique/sbcfleet/pkg/prosbc"
)

// stubFiles is an in-memory FileService: per-appliance file sets, injectable
// failures, and a record of every upload.
type stubFiles struct {
	mu      sync.Mutex
	files   map[string]map[prosbc.FileKind][]stubFile
	listErr map[string]error
	uploads []uploadCall
}

type stubFile struct {
	id      string
	name    string
	content string
}

type uploadCall struct {
	applianceID string
	kind        prosbc.FileKind
	fileName    string
	mode        prosbc.UploadMode
}

func newStubFiles() *stubFiles {
	return &stubFiles{
		files:   map[string]map[prosbc.FileKind][]stubFile{},
		listErr: map[string]error{},
	}
}

func (s *stubFiles) add(applianceID string, kind prosbc.FileKind, f stubFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files[applianceID] == nil {
		s.files[applianceID] = map[prosbc.FileKind][]stubFile{}
	}
	s.files[applianceID][kind] = append(s.files[applianceID][kind], f)
}

func (s *stubFiles) ListFiles(_ context.Context, applianceID, _ string, kind prosbc.FileKind) ([]prosbc.FileDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.listErr[applianceID]; err != nil {
		return nil, err
	}
	var out []prosbc.FileDescriptor
	for _, f := range s.files[applianceID][kind] {
		out = append(out, prosbc.FileDescriptor{ID: f.id, Name: f.name, Kind: kind})
	}
	return out, nil
}

func (s *stubFiles) ExportFile(_ context.Context, applianceID, _ string, kind prosbc.FileKind, fileID string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files[applianceID][kind] {
		if f.id != "" && f.id == fileID {
			return io.NopCloser(bytes.NewReader([]byte(f.content))), nil
		}
	}
	return nil, fmt.Errorf("export %s: no such file", fileID)
}

func (s *stubFiles) UploadFile(_ context.Context, applianceID, _ string, kind prosbc.FileKind, fileName string, content []byte, mode prosbc.UploadMode) (*prosbc.UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, uploadCall{applianceID: applianceID, kind: kind, fileName: fileName, mode: mode})
	for i, f := range s.files[applianceID][kind] {
		if f.name == fileName {
			s.files[applianceID][kind][i].content = string(content)
			return &prosbc.UploadResult{FileName: fileName, FileID: f.id, Verified: true}, nil
		}
	}
	return nil, fmt.Errorf("upload target %q not found", fileName)
}

func (s *stubFiles) DeleteFile(context.Context, string, string, prosbc.FileKind, string) error {
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func addAppliance(t *testing.T, st store.Store, id string) {
	t.Helper()
	require.NoError(t, st.CreateAppliance(context.Background(), &models.Appliance{
		ID:       id,
		BaseURL:  "https://" + id + ".example.com",
		Username: "admin",
		Password: "secret",
		Active:   true,
	}))
}

func TestUpdateOnAllFuzzyMatching(t *testing.T) {
	st := newTestStore(t)
	addAppliance(t, st, "sbc-a")
	addAppliance(t, st, "sbc-b")
	addAppliance(t, st, "sbc-c")

	files := newStubFiles()
	files.add("sbc-a", prosbc.FileKindDefinition, stubFile{id: "1", name: "Acme Corp.csv"})
	files.add("sbc-b", prosbc.FileKindDefinition, stubFile{id: "2", name: "acme corp.csv"})
	files.add("sbc-c", prosbc.FileKindDefinition, stubFile{id: "3", name: "Acme  Corp.csv"})

	o := New(files, st, Options{})
	results, err := o.UpdateOnAll(context.Background(), prosbc.FileKindDefinition, "Acme Corp.csv", []byte("x\n"))
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, r := range results {
		assert.True(t, r.Success, "appliance %s: %s %s", r.ApplianceID, r.Error, r.Message)
		assert.Empty(t, r.Error)
		// Name variants resolve without the edit-distance tier, so the
		// distance diagnostics stay zero.
		assert.Zero(t, r.MatchRelative)
	}
	assert.Equal(t, "exact", results[0].MatchTier)
	assert.Equal(t, "normalized", results[1].MatchTier)
	assert.Equal(t, "normalized", results[2].MatchTier)
	assert.Len(t, files.uploads, 3)
	for _, up := range files.uploads {
		assert.Equal(t, prosbc.ModeUpdate, up.mode)
	}
}

func TestUpdateOnAllPreservesOrderAndSkipsMissing(t *testing.T) {
	st := newTestStore(t)
	addAppliance(t, st, "sbc-a")
	addAppliance(t, st, "sbc-b")

	files := newStubFiles()
	files.add("sbc-a", prosbc.FileKindDefinition, stubFile{id: "1", name: "routes.csv"})
	// sbc-b does not carry the file at all.

	o := New(files, st, Options{})
	results, err := o.UpdateOnAll(context.Background(), prosbc.FileKindDefinition, "routes.csv", []byte("x\n"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "sbc-a", results[0].ApplianceID)
	assert.True(t, results[0].Success)

	assert.Equal(t, "sbc-b", results[1].ApplianceID)
	assert.False(t, results[1].Success)
	assert.Equal(t, "not on this instance", results[1].Message)
	assert.Empty(t, results[1].Error, "a missing file is not an error")
}

func TestUpdateOnAllClassifiesFailures(t *testing.T) {
	st := newTestStore(t)
	addAppliance(t, st, "sbc-a")
	addAppliance(t, st, "sbc-b")

	files := newStubFiles()
	files.add("sbc-b", prosbc.FileKindDefinition, stubFile{id: "1", name: "routes.csv"})
	files.listErr["sbc-a"] = fmt.Errorf("dial tcp 10.0.0.1:443: connection refused")

	o := New(files, st, Options{})
	results, err := o.UpdateOnAll(context.Background(), prosbc.FileKindDefinition, "routes.csv", []byte("x\n"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.Equal(t, prosbc.ClassConnection, results[0].ErrorType)
	assert.True(t, results[1].Success, "one appliance failing must not stop the rest")
}

func TestSyncDmInventory(t *testing.T) {
	st := newTestStore(t)
	addAppliance(t, st, "sbc-a")

	files := newStubFiles()
	files.add("sbc-a", prosbc.FileKindDigitMap, stubFile{id: "1", name: "cust.csv", content: "called\n5551000\n5551001\n"})
	files.add("sbc-a", prosbc.FileKindDigitMap, stubFile{id: "2", name: "ignore_called_calling.csv", content: "x\n"})
	files.add("sbc-a", prosbc.FileKindDigitMap, stubFile{id: "3", name: "notes.txt", content: "x\n"})

	o := New(files, st, Options{})
	report, err := o.SyncDmInventory(context.Background(), "sbc-a", "")
	require.NoError(t, err)
	require.Len(t, report.Synced, 1)
	assert.Equal(t, "cust.csv", report.Synced[0].Name)
	assert.Equal(t, 2, report.Synced[0].Count)
	assert.Empty(t, report.Errors)

	row, err := st.GetInventoryRow(context.Background(), "sbc-a", "cust.csv")
	require.NoError(t, err)
	assert.Equal(t, models.InventoryActive, row.Status)
	assert.Equal(t, []string{"5551000", "5551001"}, row.ExtractedNumbers)
	assert.Equal(t, 2, row.NumberCount)
	assert.Equal(t, "called\n5551000\n5551001\n", string(row.CSVBody))
}

func TestSyncDmInventoryMarksFailedFileInactive(t *testing.T) {
	st := newTestStore(t)
	addAppliance(t, st, "sbc-a")

	files := newStubFiles()
	files.add("sbc-a", prosbc.FileKindDigitMap, stubFile{id: "1", name: "good.csv", content: "called\n5551000\n"})
	// Listing names a file the export endpoint no longer serves.
	files.mu.Lock()
	files.files["sbc-a"][prosbc.FileKindDigitMap] = append(files.files["sbc-a"][prosbc.FileKindDigitMap],
		stubFile{id: "", name: "ghost.csv"})
	files.mu.Unlock()

	o := New(files, st, Options{})
	report, err := o.SyncDmInventory(context.Background(), "sbc-a", "")
	require.NoError(t, err)
	assert.Len(t, report.Synced, 1)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "ghost.csv", report.Errors[0].Name)

	row, err := st.GetInventoryRow(context.Background(), "sbc-a", "ghost.csv")
	require.NoError(t, err)
	assert.Equal(t, models.InventoryInactive, row.Status)
}

func replaceFixture(t *testing.T) (*Orchestrator, *stubFiles, store.Store) {
	t.Helper()
	st := newTestStore(t)
	addAppliance(t, st, "sbc-a")
	files := newStubFiles()
	files.add("sbc-a", prosbc.FileKindDigitMap,
		stubFile{id: "1", name: "cust.csv", content: "called\nn1\nn2\nn3\n"})
	return New(files, st, Options{}), files, st
}

func setFileContent(files *stubFiles, applianceID string, kind prosbc.FileKind, id, content string) {
	files.mu.Lock()
	defer files.mu.Unlock()
	for i, f := range files.files[applianceID][kind] {
		if f.id == id {
			files.files[applianceID][kind][i].content = content
		}
	}
}

func TestReplaceAllAdditions(t *testing.T) {
	o, _, st := replaceFixture(t)

	reports, err := o.ReplaceAll(context.Background(), "", "ops")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Empty(t, reports[0].Error)
	assert.Equal(t, 3, reports[0].Added)
	assert.Zero(t, reports[0].Renamed)
	assert.Zero(t, reports[0].Scheduled)

	active, err := st.ListActiveNumbers(context.Background(), "sbc-a")
	require.NoError(t, err)
	assert.Len(t, active, 3)
	for _, n := range active {
		assert.Equal(t, "cust.csv", n.CustomerName)
		assert.Equal(t, "ops", n.AddedBy)
	}

	events, err := st.ListNumberEvents(context.Background(), "n1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.ActionAdd, events[0].Action)
}

func TestReplaceAllIdempotent(t *testing.T) {
	o, _, st := replaceFixture(t)

	_, err := o.ReplaceAll(context.Background(), "", "ops")
	require.NoError(t, err)

	reports, err := o.ReplaceAll(context.Background(), "", "ops")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Zero(t, reports[0].Added, "second run over identical inventory adds nothing")
	assert.Zero(t, reports[0].Renamed)
	assert.Zero(t, reports[0].Scheduled)

	for _, number := range []string{"n1", "n2", "n3"} {
		events, err := st.ListNumberEvents(context.Background(), number, 10)
		require.NoError(t, err)
		assert.Len(t, events, 1, "number %s must not accumulate events", number)
	}
}

func TestReplaceAllRenames(t *testing.T) {
	o, files, st := replaceFixture(t)

	_, err := o.ReplaceAll(context.Background(), "", "ops")
	require.NoError(t, err)

	// n3 moves to a different customer file.
	setFileContent(files, "sbc-a", prosbc.FileKindDigitMap, "1", "called\nn1\nn2\n")
	files.add("sbc-a", prosbc.FileKindDigitMap, stubFile{id: "2", name: "other.csv", content: "called\nn3\n"})

	reports, err := o.ReplaceAll(context.Background(), "", "ops")
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].Renamed)
	assert.Zero(t, reports[0].Added)
	assert.Zero(t, reports[0].Scheduled)

	active, err := st.ListActiveNumbers(context.Background(), "sbc-a")
	require.NoError(t, err)
	byNumber := map[string]string{}
	for _, n := range active {
		byNumber[n.Number] = n.CustomerName
	}
	assert.Equal(t, "other.csv", byNumber["n3"])

	events, err := st.ListNumberEvents(context.Background(), "n3", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.ActionUpdate, events[0].Action)
}

func TestScheduledRemovalPipeline(t *testing.T) {
	o, files, st := replaceFixture(t)
	ctx := context.Background()

	_, err := o.ReplaceAll(ctx, "", "ops")
	require.NoError(t, err)

	// n2 disappears from the inventory.
	setFileContent(files, "sbc-a", prosbc.FileKindDigitMap, "1", "called\nn1\nn3\n")

	reports, err := o.ReplaceAll(ctx, "", "ops")
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].Scheduled)

	pending, err := st.ListPendingRemovals(ctx, "sbc-a")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "n2", pending[0].Number)

	wantDate := endOfMonth(time.Now())
	assert.WithinDuration(t, wantDate, pending[0].RemovalDate, 2*time.Second)

	// Re-running while the removal is pending schedules nothing new.
	reports, err = o.ReplaceAll(ctx, "", "ops")
	require.NoError(t, err)
	assert.Zero(t, reports[0].Scheduled)

	// Past the removal date the number is closed and the schedule is gone.
	processed, err := o.ProcessPendingRemovals(ctx, pending[0].RemovalDate.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	pending, err = st.ListPendingRemovals(ctx, "sbc-a")
	require.NoError(t, err)
	assert.Empty(t, pending)

	active, err := st.ListActiveNumbers(ctx, "sbc-a")
	require.NoError(t, err)
	numbers := map[string]bool{}
	for _, n := range active {
		numbers[n.Number] = true
	}
	assert.False(t, numbers["n2"])
	assert.True(t, numbers["n1"])
	assert.True(t, numbers["n3"])

	// The removed number still counts toward the month it was active in.
	now := time.Now()
	usage, err := o.MonthlyUsage(ctx, now.Year(), now.Month(), "sbc-a")
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, "cust.csv", usage[0].CustomerName)
	assert.Equal(t, int64(3), usage[0].NumberCount)
}

func TestProcessPendingRemovalsIgnoresNotDue(t *testing.T) {
	o, files, st := replaceFixture(t)
	ctx := context.Background()

	_, err := o.ReplaceAll(ctx, "", "ops")
	require.NoError(t, err)
	setFileContent(files, "sbc-a", prosbc.FileKindDigitMap, "1", "called\nn1\n")
	_, err = o.ReplaceAll(ctx, "", "ops")
	require.NoError(t, err)

	processed, err := o.ProcessPendingRemovals(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, processed, "end-of-month removals are not due mid-month")

	pending, err := st.ListPendingRemovals(ctx, "sbc-a")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSearchNumbers(t *testing.T) {
	o, _, _ := replaceFixture(t)
	ctx := context.Background()

	_, err := o.ReplaceAll(ctx, "", "ops")
	require.NoError(t, err)

	hits, err := o.SearchNumbers(ctx, "n1", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "n1", hits[0].Number)
	assert.Equal(t, "cust.csv", hits[0].CustomerName)
}
