package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"endgame/internal/logging"
	"endgame/internal/types"
)

// Parse reads one artifact and returns its linear text. Dispatch is by
// extension: txt/md are read whole, PDF concatenates page text, HTML is
// tag-stripped, and JSON is inspected for known chat-export schemas before
// collapsing to its string values.
func Parse(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
		}
		return string(data), nil
	case ".pdf":
		return parsePDF(path)
	case ".html", ".htm":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
		}
		return parseHTML(data)
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
		}
		return ParseJSON(data)
	default:
		return "", fmt.Errorf("%w: unsupported file type %q", types.ErrValidation, filepath.Ext(path))
	}
}

// parsePDF concatenates the plain text of every page. Unreadable pages are
// skipped so one bad page does not sink the whole artifact.
func parsePDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logging.Get(logging.CategoryIngestion).Warn("Skipping unreadable page %d of %s: %v", i, filepath.Base(path), err)
			continue
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// parseHTML returns the visible text of an HTML document, one fragment per
// line. Script, style and noscript subtrees are dropped.
func parseHTML(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String(), nil
}

// ParseJSON renders a JSON artifact as linear text. ChatGPT exports become
// per-conversation transcripts ordered by create_time, conversation-list
// exports become one line per entry, and anything else collapses to its
// string content.
func ParseJSON(data []byte) (string, error) {
	if text, ok := parseChatExport(data); ok {
		return text, nil
	}
	if text, ok := parseConversationList(data); ok {
		return text, nil
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", fmt.Errorf("failed to parse json: %w", err)
	}
	return flattenJSON(generic), nil
}

// chatExportConversation is one conversation in a ChatGPT export: a title
// plus a mapping tree of message nodes keyed by opaque ids.
type chatExportConversation struct {
	Title   string                    `json:"title"`
	Mapping map[string]chatExportNode `json:"mapping"`
}

type chatExportNode struct {
	Message *chatExportMessage `json:"message"`
}

// chatExportMessage tolerates the content variants seen in the wild: a
// {parts: [...]} object, a {text: ...} object, or a bare string.
type chatExportMessage struct {
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content    json.RawMessage `json:"content"`
	CreateTime float64         `json:"create_time"`
}

func (m *chatExportMessage) text() string {
	if len(m.Content) == 0 {
		return ""
	}
	var plain string
	if err := json.Unmarshal(m.Content, &plain); err == nil {
		return strings.TrimSpace(plain)
	}
	var obj struct {
		Parts []any  `json:"parts"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &obj); err != nil {
		return ""
	}
	var parts []string
	for _, p := range obj.Parts {
		if s, ok := p.(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return strings.TrimSpace(obj.Text)
}

// parseChatExport recognizes ChatGPT exports: a list of conversations, or a
// single conversation object, each carrying a mapping tree. Arbitrary JSON
// arrays without mappings fall through to the generic path.
func parseChatExport(data []byte) (string, bool) {
	var convs []chatExportConversation
	if err := json.Unmarshal(data, &convs); err == nil {
		for _, c := range convs {
			if len(c.Mapping) > 0 {
				return renderConversations(convs), true
			}
		}
		return "", false
	}

	var single chatExportConversation
	if err := json.Unmarshal(data, &single); err == nil && len(single.Mapping) > 0 {
		return renderConversations([]chatExportConversation{single}), true
	}
	return "", false
}

type exportMessage struct {
	role string
	text string
	at   float64
}

// renderConversations flattens mapping trees into transcripts. Mapping order
// is not meaningful, so messages are sorted by create_time; messages without
// a timestamp keep their decode order at the front.
func renderConversations(convs []chatExportConversation) string {
	var sb strings.Builder
	for _, conv := range convs {
		title := conv.Title
		if title == "" {
			title = "Unknown Conversation"
		}

		msgs := make([]exportMessage, 0, len(conv.Mapping))
		for _, node := range conv.Mapping {
			if node.Message == nil {
				continue
			}
			text := node.Message.text()
			if text == "" {
				continue
			}
			role := node.Message.Author.Role
			if role == "" {
				role = "unknown"
			}
			msgs = append(msgs, exportMessage{role: role, text: text, at: node.Message.CreateTime})
		}
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].at < msgs[j].at })

		sb.WriteString("\n\n=== Conversation: ")
		sb.WriteString(title)
		sb.WriteString(" ===\n")
		for _, m := range msgs {
			sb.WriteString(fmt.Sprintf("[%s]: %s\n", m.role, m.text))
		}
	}
	return strings.TrimSpace(sb.String())
}

// parseConversationList recognizes activity-style exports (Gemini dumps and
// similar) with a top-level conversations array of {id, text, timestamp}.
func parseConversationList(data []byte) (string, bool) {
	var doc struct {
		Conversations []struct {
			Text      string          `json:"text"`
			Timestamp json.RawMessage `json:"timestamp"`
		} `json:"conversations"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || len(doc.Conversations) == 0 {
		return "", false
	}

	var lines []string
	for _, c := range doc.Conversations {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		if ts := decodeTimestamp(c.Timestamp); ts != "" {
			lines = append(lines, fmt.Sprintf("[%s] %s", ts, text))
		} else {
			lines = append(lines, text)
		}
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}

// decodeTimestamp accepts a unix epoch number or a preformatted string.
func decodeTimestamp(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil && epoch > 0 {
		return time.Unix(int64(epoch), 0).Format("2006-01-02 15:04:05")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

// contentKeys are surfaced first when flattening unknown JSON so message
// bodies come out ahead of structural noise.
var contentKeys = []string{"content", "message", "text", "value"}

// flattenJSON collects the string content of an arbitrary JSON value, one
// fragment per line. Objects yield their content-like fields first, then
// recurse into remaining containers in sorted key order so output is
// deterministic. Scalars other than strings are dropped.
func flattenJSON(v any) string {
	var parts []string
	var walk func(any)
	walk = func(item any) {
		switch x := item.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				parts = append(parts, s)
			}
		case []any:
			for _, sub := range x {
				walk(sub)
			}
		case map[string]any:
			seen := make(map[string]bool, len(contentKeys))
			for _, k := range contentKeys {
				if val, ok := x[k]; ok {
					seen[k] = true
					walk(val)
				}
			}
			rest := make([]string, 0, len(x))
			for k := range x {
				if !seen[k] {
					rest = append(rest, k)
				}
			}
			sort.Strings(rest)
			for _, k := range rest {
				switch x[k].(type) {
				case map[string]any, []any:
					walk(x[k])
				}
			}
		}
	}
	walk(v)
	return strings.Join(parts, "\n")
}
