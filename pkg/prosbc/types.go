// Package prosbc drives remote ProSBC appliances over their HTTP
// administration surface: cookie sessions, configuration selection, HTML
// scraping and the routeset file operations built on top of them.
package prosbc

import "fmt"

// FileKind identifies one of the two routing file tables an appliance hosts.
type FileKind string

const (
	// FileKindDefinition is the routeset definition (DF) table.
	FileKindDefinition FileKind = "routesets_definitions"

	// FileKindDigitMap is the per-customer digit-map (DM) table.
	FileKindDigitMap FileKind = "routesets_digitmaps"
)

// Legend returns the exact fieldset legend text the appliance renders for
// this kind.
func (k FileKind) Legend() string {
	switch k {
	case FileKindDefinition:
		return "Routesets Definition:"
	case FileKindDigitMap:
		return "Routesets Digitmap:"
	default:
		return ""
	}
}

// FormField returns the multipart field name the HTML upload form expects for
// the file payload of this kind.
func (k FileKind) FormField() string {
	switch k {
	case FileKindDefinition:
		return "tbgw_routesets_definition"
	case FileKindDigitMap:
		return "tbgw_routesets_digitmap"
	default:
		return ""
	}
}

// Valid reports whether the kind is one of the two known tables.
func (k FileKind) Valid() bool {
	return k == FileKindDefinition || k == FileKindDigitMap
}

// FileDescriptor is one row of a scraped file table. Descriptors are
// ephemeral: they are valid for the listing they came from and a short cache
// window.
type FileDescriptor struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Kind       FileKind `json:"kind"`
	ConfigID   string   `json:"config_id"` // the file-database id the listing came from
	UpdateHref string   `json:"update_href"`
	ExportHref string   `json:"export_href"`
	DeleteHref string   `json:"delete_href"`
}

// Configuration is one named configuration discovered on an appliance.
type Configuration struct {
	ID     string `json:"id"`   // appliance-local numeric string
	Name   string `json:"name"` // e.g. "config_052421-1"
	Active bool   `json:"active"`
}

// SelectedConfig is the validated result of configuration selection: the
// configuration id plus the file-database id file-listing URLs use. The two
// usually agree but diverge on the legacy variant, so both travel together
// and file operations never accept a bare numeric.
type SelectedConfig struct {
	ID   string `json:"id"`
	DBID string `json:"db_id"`
	Name string `json:"name"`
}

func (c SelectedConfig) String() string {
	if c.ID == c.DBID {
		return fmt.Sprintf("config %s (db %s)", c.Name, c.DBID)
	}
	return fmt.Sprintf("config %s (id %s, db %s)", c.Name, c.ID, c.DBID)
}

// UploadMode selects the behavior of Upload when the target name exists.
type UploadMode string

const (
	// ModeAuto tries an existence check and falls back to the HTML form flow,
	// retrying once with a unique name on a name conflict.
	ModeAuto UploadMode = "auto"

	// ModeCreate always creates; an existing name gets a unique suffix.
	ModeCreate UploadMode = "create"

	// ModeUpdate replaces an existing file and fails with NotFound otherwise.
	ModeUpdate UploadMode = "update"

	// ModeReplace updates when the file exists, creates otherwise.
	ModeReplace UploadMode = "replace"
)

// UploadResult reports the outcome of one upload.
type UploadResult struct {
	FileName string `json:"file_name"` // final name, possibly unique-suffixed
	FileID   string `json:"file_id,omitempty"`
	Created  bool   `json:"created"`  // false means an existing file was updated
	Verified bool   `json:"verified"` // round-trip verification succeeded
}

// FlashLevel classifies a flash-cookie message.
type FlashLevel string

const (
	FlashNotice FlashLevel = "notice"
	FlashError  FlashLevel = "error"
)

// Flash is the success/error message the appliance encodes into its session
// cookie for the previous request.
type Flash struct {
	Level FlashLevel
	Text  string
}
