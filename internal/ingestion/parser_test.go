package ingestion

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"endgame/internal/types"
)

func TestParseTextFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Quarterly plan\n\nShip the MVP."), 0644))

	text, err := Parse(path)
	require.NoError(t, err)
	assert.Contains(t, text, "Quarterly plan")
	assert.Contains(t, text, "Ship the MVP.")
}

func TestParseUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 0x50}, 0644))

	_, err := Parse(path)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestParseJSONChatExport(t *testing.T) {
	// Mapping keys are intentionally out of chronological order; rendering
	// must follow create_time, not decode order.
	data := []byte(`[
	  {
	    "title": "Roadmap planning",
	    "mapping": {
	      "m2": {"message": {"author": {"role": "assistant"}, "create_time": 1700000100, "content": {"parts": ["Start with the storage layer."]}}},
	      "m1": {"message": {"author": {"role": "user"}, "create_time": 1700000000, "content": {"parts": ["How should we sequence the refactor?"]}}},
	      "root": {"message": null}
	    }
	  }
	]`)

	text, err := ParseJSON(data)
	require.NoError(t, err)

	assert.Contains(t, text, "=== Conversation: Roadmap planning ===")
	userIdx := strings.Index(text, "[user]: How should we sequence the refactor?")
	assistantIdx := strings.Index(text, "[assistant]: Start with the storage layer.")
	require.GreaterOrEqual(t, userIdx, 0)
	require.GreaterOrEqual(t, assistantIdx, 0)
	assert.Less(t, userIdx, assistantIdx)
}

func TestParseJSONSingleConversationExport(t *testing.T) {
	data := []byte(`{
	  "title": "One-off",
	  "mapping": {
	    "m1": {"message": {"author": {"role": "user"}, "content": {"text": "Text field variant"}}},
	    "m2": {"message": {"author": {}, "create_time": 5, "content": "Bare string variant"}}
	  }
	}`)

	text, err := ParseJSON(data)
	require.NoError(t, err)

	assert.Contains(t, text, "=== Conversation: One-off ===")
	assert.Contains(t, text, "[user]: Text field variant")
	assert.Contains(t, text, "[unknown]: Bare string variant")
}

func TestParseJSONConversationList(t *testing.T) {
	data := []byte(`{"conversations": [
	  {"id": "c1", "text": "Reviewed the hiring plan", "timestamp": 1700000000},
	  {"id": "c2", "text": "   "},
	  {"id": "c3", "text": "Drafted the OKRs"}
	]}`)

	text, err := ParseJSON(data)
	require.NoError(t, err)

	lines := strings.Split(text, "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "["), "epoch timestamps render as a date prefix")
	assert.Contains(t, lines[0], "Reviewed the hiring plan")
	assert.Equal(t, "Drafted the OKRs", lines[1])
}

func TestParseJSONGenericFallback(t *testing.T) {
	data := []byte(`{
	  "meta": {"version": 3},
	  "entries": [
	    {"text": "First note", "weight": 0.5},
	    {"payload": {"content": "Second note"}}
	  ]
	}`)

	text, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "First note\nSecond note", text)
}

func TestParseJSONInvalid(t *testing.T) {
	_, err := ParseJSON([]byte("{not json"))
	assert.Error(t, err)
}

func TestParseHTMLStripsMarkup(t *testing.T) {
	markup := `<html><head><style>body { color: red }</style><script>alert(1)</script></head>
	<body><h1>Weekly review</h1><p>Finished the <b>ingestion</b> pipeline.</p></body></html>`

	text, err := parseHTML([]byte(markup))
	require.NoError(t, err)

	assert.Contains(t, text, "Weekly review")
	assert.Contains(t, text, "ingestion")
	assert.NotContains(t, text, "alert(1)")
	assert.NotContains(t, text, "color: red")
}
