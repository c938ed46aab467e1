package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextFormatIncludesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: InfoLevel, Format: TextFormat, Output: &buf, Component: "frag"})

	l.Info("fragmented file", Fields{"key": "docs/x", "fragments": 3})

	out := buf.String()
	assert.Contains(t, out, "(frag)")
	assert.Contains(t, out, "fragmented file")
	assert.Contains(t, out, "key=docs/x")
	assert.Contains(t, out, "fragments=3")
}

func TestJSONFormatProducesValidJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: DebugLevel, Format: JSONFormat, Output: &buf, Component: "download"})

	l.Warn("fragment fetch failed", Fields{"n": 2})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "download", entry["component"])
	assert.Equal(t, "fragment fetch failed", entry["msg"])
	assert.Equal(t, float64(2), entry["n"])
}

func TestLevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: WarnLevel, Format: TextFormat, Output: &buf})

	l.Debug("should not appear", nil)
	l.Info("should not appear either", nil)
	l.Warn("this one should appear", nil)

	out := buf.String()
	assert.False(t, strings.Contains(out, "should not appear"))
	assert.Contains(t, out, "this one should appear")
}

func TestWithComponentInheritsLevelAndOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: ErrorLevel, Format: TextFormat, Output: &buf})
	child := l.WithComponent("sanitizer")

	child.Warn("filtered out", nil)
	assert.Empty(t, buf.String())

	child.Error("goes through", nil)
	assert.Contains(t, buf.String(), "(sanitizer)")
}

func TestParseLevelAndFormat(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))
	assert.Equal(t, JSONFormat, ParseFormat("json"))
	assert.Equal(t, TextFormat, ParseFormat("anything-else"))
}
