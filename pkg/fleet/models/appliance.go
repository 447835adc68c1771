package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Appliance represents one remote ProSBC instance the plane manages.
//
// Credentials are stored reversibly: they are replayed to the appliance both
// as HTTP Basic auth (REST endpoints) and as a form login (HTML endpoints).
// The integration core never mutates appliances; rows are created and
// destroyed through the admin surface.
type Appliance struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	BaseURL     string    `gorm:"not null;size:255" json:"base_url"`
	Username    string    `gorm:"not null;size:255" json:"username"`
	Password    string    `gorm:"not null" json:"-"`
	InsecureTLS bool      `gorm:"default:false" json:"insecure_tls"`
	Active      bool      `gorm:"default:true" json:"active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Appliance.
func (Appliance) TableName() string {
	return "appliances"
}

// Validate checks the appliance row is usable for outbound calls.
func (a *Appliance) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("appliance id is required")
	}
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url %q: %w", a.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url %q must use http or https", a.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base url %q has no host", a.BaseURL)
	}
	if a.Username == "" {
		return fmt.Errorf("appliance username is required")
	}
	return nil
}

// IsLegacyVariant reports whether this appliance is the legacy prosbc1
// variant whose configuration pages cannot be parsed reliably and whose
// config-to-filedb correspondence comes from a built-in mapping table.
func (a *Appliance) IsLegacyVariant() bool {
	return strings.EqualFold(a.ID, "prosbc1")
}
