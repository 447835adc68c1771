package prosbc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"
)

// uniqueName derives a collision-free variant of a file name by inserting a
// millisecond timestamp before the extension.
func uniqueName(name string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s_%d%s", base, time.Now().UnixMilli(), ext)
}

// normalizeCSV strips carriage returns and trailing blank lines so that
// uploaded and re-exported bodies compare equal across appliance versions.
func normalizeCSV(b []byte) string {
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimRight(s, "\n ")
}

// UploadFile pushes a CSV file to the selected configuration.
//
// ModeUpdate requires the file to exist; ModeCreate always imports a new
// file, deriving a unique name on a name conflict; ModeReplace updates when
// the file exists and creates it otherwise; ModeAuto behaves like
// ModeReplace but also retries a conflicting create under a unique name.
// Updates prefer the JSON REST endpoint and verify the write by re-export,
// falling back to the HTML import form when either step fails.
func (s *Service) UploadFile(ctx context.Context, applianceID, configRef string, kind FileKind, fileName string, content []byte, mode UploadMode) (*UploadResult, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid file kind %q", kind)
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("file name required")
	}
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	start := time.Now()

	res, err := s.upload(ctx, applianceID, configRef, kind, fileName, content, mode)
	s.record(applianceID, "upload", kind, start, err)
	return res, err
}

func (s *Service) upload(ctx context.Context, applianceID, configRef string, kind FileKind, fileName string, content []byte, mode UploadMode) (*UploadResult, error) {
	files, cfg, err := s.list(ctx, applianceID, configRef, kind, true)
	if err != nil {
		return nil, err
	}
	existing := findByName(files, fileName)

	switch mode {
	case ModeUpdate:
		if existing == nil {
			return nil, opErr(KindNotFound, applianceID, "upload", "file %q not found for update", fileName)
		}
		return s.update(ctx, applianceID, configRef, cfg, kind, *existing, fileName, content)

	case ModeCreate:
		name := fileName
		if existing != nil {
			name = uniqueName(fileName)
		}
		return s.create(ctx, applianceID, configRef, cfg, kind, name, content, true)

	case ModeReplace:
		if existing != nil {
			return s.update(ctx, applianceID, configRef, cfg, kind, *existing, fileName, content)
		}
		return s.create(ctx, applianceID, configRef, cfg, kind, fileName, content, false)

	case ModeAuto:
		if existing != nil {
			return s.update(ctx, applianceID, configRef, cfg, kind, *existing, fileName, content)
		}
		return s.create(ctx, applianceID, configRef, cfg, kind, fileName, content, true)

	default:
		return nil, fmt.Errorf("invalid upload mode %q", mode)
	}
}

func findByName(files []FileDescriptor, name string) *FileDescriptor {
	for i := range files {
		if files[i].Name == name {
			return &files[i]
		}
	}
	norm := NormalizeName(name)
	for i := range files {
		if NormalizeName(files[i].Name) == norm {
			return &files[i]
		}
	}
	return nil
}

// update rewrites an existing file, REST first and the import form second.
func (s *Service) update(ctx context.Context, applianceID, configRef string, cfg SelectedConfig, kind FileKind, fd FileDescriptor, fileName string, content []byte) (*UploadResult, error) {
	c, cookie, _, err := s.begin(ctx, applianceID, configRef)
	if err != nil {
		return nil, err
	}
	defer s.invalidateList(c.ApplianceID(), cfg.DBID, kind)

	restErr := s.restUpdate(ctx, c, cfg, kind, fd, fileName, content)
	if restErr == nil {
		if verr := s.verify(ctx, c, cookie, cfg, kind, fd.ID, content); verr == nil {
			return &UploadResult{FileName: fileName, FileID: fd.ID, Created: false, Verified: true}, nil
		}
		c.log.Warn("rest update not reflected on re-export, falling back to form", "file", fileName)
	} else if IsKind(restErr, KindTimeout) || IsKind(restErr, KindSessionExpired) {
		return nil, restErr
	} else {
		c.log.Debug("rest update failed, falling back to form", "file", fileName, "error", restErr)
	}

	if _, err := s.formUpload(ctx, c, cookie, cfg, kind, fileName, content, &fd); err != nil {
		return nil, err
	}
	if err := s.verify(ctx, c, cookie, cfg, kind, fd.ID, content); err != nil {
		return nil, err
	}
	return &UploadResult{FileName: fileName, FileID: fd.ID, Created: false, Verified: true}, nil
}

// create imports a new file through the HTML form. retryConflict enables one
// retry under a derived unique name when the appliance rejects the name as
// taken.
func (s *Service) create(ctx context.Context, applianceID, configRef string, cfg SelectedConfig, kind FileKind, fileName string, content []byte, retryConflict bool) (*UploadResult, error) {
	c, cookie, _, err := s.begin(ctx, applianceID, configRef)
	if err != nil {
		return nil, err
	}
	defer s.invalidateList(c.ApplianceID(), cfg.DBID, kind)

	fileID, err := s.formUpload(ctx, c, cookie, cfg, kind, fileName, content, nil)
	if err != nil {
		if !retryConflict || !IsKind(err, KindConflict) {
			return nil, err
		}
		fileName = uniqueName(fileName)
		c.log.Info("name taken, retrying import under unique name", "file", fileName)
		fileID, err = s.formUpload(ctx, c, cookie, cfg, kind, fileName, content, nil)
		if err != nil {
			return nil, err
		}
	}

	res := &UploadResult{FileName: fileName, FileID: fileID, Created: true}
	if fileID != "" {
		if err := s.verify(ctx, c, cookie, cfg, kind, fileID, content); err == nil {
			res.Verified = true
		}
	}
	return res, nil
}

// restUpdate PUTs the file body through the JSON API.
func (s *Service) restUpdate(ctx context.Context, c *Client, cfg SelectedConfig, kind FileKind, fd FileDescriptor, fileName string, content []byte) error {
	configName := cfg.Name
	if configName == "" {
		configName = cfg.ID
	}
	payload, err := json.Marshal(map[string]string{
		"name":    fileName,
		"content": string(content),
		"type":    "csv",
	})
	if err != nil {
		return err
	}

	p := fmt.Sprintf("/configurations/%s/file_dbs/%s/%s/%s", configName, cfg.DBID, kind, fd.ID)
	req, err := c.newRequest(ctx, http.MethodPut, p, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.withBasicAuth(req)

	resp, err := c.do("upload", req)
	if err != nil {
		return err
	}
	body := readBody(resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return opErr(KindAuthFailed, c.ApplianceID(), "upload", "rest update rejected (%d)", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return opErr(KindNotFound, c.ApplianceID(), "upload", "rest endpoint or file %s missing", fd.ID)
	default:
		return &OpError{Kind: KindUpstreamError, Appliance: c.ApplianceID(), Op: "upload",
			Message: "rest update status " + resp.Status, Snippet: Snippet(string(body))}
	}
}

// verify re-exports the file and compares it against what was uploaded.
func (s *Service) verify(ctx context.Context, c *Client, cookie string, cfg SelectedConfig, kind FileKind, fileID string, content []byte) error {
	rc, err := s.exportOnce(ctx, c, cookie, cfg, kind, fileID)
	if err != nil {
		return opErr(KindVerificationFailed, c.ApplianceID(), "upload", "re-export failed: %v", err)
	}
	defer func() { _ = rc.Close() }()

	got, err := io.ReadAll(io.LimitReader(rc, maxBodyBytes))
	if err != nil {
		return opErr(KindVerificationFailed, c.ApplianceID(), "upload", "re-export read failed: %v", err)
	}
	if normalizeCSV(got) != normalizeCSV(content) {
		return opErr(KindVerificationFailed, c.ApplianceID(), "upload",
			"re-exported content differs (%d bytes vs %d uploaded)", len(got), len(content))
	}
	return nil
}

// formUpload drives the HTML import form: fetch the page for a CSRF token,
// POST the multipart body, then decide success from the flash cookie, the
// redirect target, or a probe of the file-database pages. Returns the file
// id when the appliance reveals it, "" otherwise.
func (s *Service) formUpload(ctx context.Context, c *Client, cookie string, cfg SelectedConfig, kind FileKind, fileName string, content []byte, existing *FileDescriptor) (string, error) {
	page, err := s.fetchFileDBOnce(ctx, c, cookie, cfg.DBID)
	if err != nil {
		return "", err
	}
	token := ExtractCSRFToken(page)
	if token == "" {
		return "", opErr(KindProtocolError, c.ApplianceID(), "upload", "no authenticity_token on file db page")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	field := kind.FormField()

	if err := mw.WriteField("authenticity_token", token); err != nil {
		return "", err
	}
	if existing != nil {
		if err := mw.WriteField("_method", "put"); err != nil {
			return "", err
		}
		if err := mw.WriteField(field+"[id]", existing.ID); err != nil {
			return "", err
		}
	}
	if err := mw.WriteField(field+"[tbgw_files_db_id]", cfg.DBID); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile(field+"[file]", fileName)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(content); err != nil {
		return "", err
	}
	commit := "Import"
	if existing != nil {
		commit = "Update"
	}
	if err := mw.WriteField("commit", commit); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	target := fmt.Sprintf("/file_dbs/%s/%s", cfg.DBID, kind)
	if existing != nil {
		target = fmt.Sprintf("/file_dbs/%s/%s/%s", cfg.DBID, kind, existing.ID)
	}
	req, err := c.newRequest(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	withCookie(req, cookie)

	resp, err := c.do("upload", req)
	if err != nil {
		return "", err
	}
	body := readBody(resp)

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := resp.Header.Get("Location")
		if isLoginLocation(location) {
			return "", opErr(KindSessionExpired, c.ApplianceID(), "upload", "session expired during import")
		}
		if flash, ok := flashFrom(resp); ok {
			if flash.Level == FlashError {
				if strings.Contains(flash.Text, "has already been taken") {
					return "", opErr(KindConflict, c.ApplianceID(), "upload", "name %q already taken", fileName)
				}
				return "", opErr(KindUpstreamError, c.ApplianceID(), "upload", "import rejected: %s", flash.Text)
			}
			if flashIndicatesSuccess(flash.Text) {
				return s.resolveFileID(ctx, c, cookie, cfg, kind, fileName, existing), nil
			}
		}
		// No conclusive flash; inspect the redirect target then probe.
		if s.confirmOnPage(ctx, c, cookie, location, fileName, kind) {
			return s.resolveFileID(ctx, c, cookie, cfg, kind, fileName, existing), nil
		}
		if id := s.probeForFile(ctx, c, cookie, kind, fileName); id != "" {
			return id, nil
		}
		return "", opErr(KindVerificationFailed, c.ApplianceID(), "upload",
			"import redirect gave no confirmation for %q", fileName)
	}

	if resp.StatusCode == http.StatusOK {
		// Rails re-renders the form on validation errors.
		if strings.Contains(string(body), "has already been taken") {
			return "", opErr(KindConflict, c.ApplianceID(), "upload", "name %q already taken", fileName)
		}
		return "", &OpError{Kind: KindUpstreamError, Appliance: c.ApplianceID(), Op: "upload",
			Message: "import form re-rendered", Snippet: Snippet(string(body))}
	}
	return "", &OpError{Kind: KindUpstreamError, Appliance: c.ApplianceID(), Op: "upload",
		Message: "import status " + resp.Status, Snippet: Snippet(string(body))}
}

func flashIndicatesSuccess(text string) bool {
	t := strings.ToLower(text)
	return strings.Contains(t, "successfully") ||
		strings.Contains(t, "imported") ||
		strings.Contains(t, "updated")
}

// confirmOnPage follows a redirect target and checks the file name appears.
func (s *Service) confirmOnPage(ctx context.Context, c *Client, cookie, location, fileName string, kind FileKind) bool {
	if location == "" {
		return false
	}
	req, err := c.newRequest(ctx, http.MethodGet, location, nil)
	if err != nil {
		return false
	}
	withCookie(req, cookie)
	resp, err := c.do("upload", req)
	if err != nil || resp.StatusCode != http.StatusOK {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return false
	}
	body := readBody(resp)
	for _, fd := range ParseFileTable(body, kind) {
		if fd.Name == fileName {
			return true
		}
	}
	return bytes.Contains(body, []byte(fileName))
}

// probeForFile scans the file-database pages for the uploaded name and
// returns its id when found.
func (s *Service) probeForFile(ctx context.Context, c *Client, cookie string, kind FileKind, fileName string) string {
	for dbID := 1; dbID <= s.selector.probeMax; dbID++ {
		body, err := s.fetchFileDBOnce(ctx, c, cookie, fmt.Sprintf("%d", dbID))
		if err != nil {
			if IsKind(err, KindSessionExpired) || IsKind(err, KindTimeout) {
				return ""
			}
			continue
		}
		for _, fd := range ParseFileTable(body, kind) {
			if fd.Name == fileName {
				return fd.ID
			}
		}
	}
	return ""
}

// resolveFileID re-lists to learn the id of a just-imported file.
func (s *Service) resolveFileID(ctx context.Context, c *Client, cookie string, cfg SelectedConfig, kind FileKind, fileName string, existing *FileDescriptor) string {
	if existing != nil {
		return existing.ID
	}
	body, err := s.fetchFileDBOnce(ctx, c, cookie, cfg.DBID)
	if err != nil {
		return ""
	}
	if fd := findByName(ParseFileTable(body, kind), fileName); fd != nil {
		return fd.ID
	}
	return ""
}
