package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text")

	Info("session acquired", "appliance", "sbc-east", "cookie_present", true)

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "session acquired")
	assert.Contains(t, out, "appliance=sbc-east")
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")

	Warn("upload retried", "file", "customer.csv")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "upload retried", rec["msg"])
	assert.Equal(t, "customer.csv", rec["file"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")

	Debug("should not appear")
	Info("should not appear either")
	Error("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	SetLevel("bogus")
	Info("still info")
	assert.Contains(t, buf.String(), "still info")
}

func TestRedact(t *testing.T) {
	a := Redact("password", "hunter2")
	assert.Equal(t, "<redacted>", a.Value.String())
	assert.False(t, strings.Contains(a.Value.String(), "hunter2"))

	a = Redact("password", "")
	assert.Equal(t, "<unset>", a.Value.String())
}

func TestCookiePresent(t *testing.T) {
	assert.True(t, CookiePresent("abc123").Value.Bool())
	assert.False(t, CookiePresent("").Value.Bool())
}
