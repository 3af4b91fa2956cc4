package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nugget/meetly/internal/contacts"
	"github.com/nugget/meetly/internal/llm"
)

func TestLookupContact(t *testing.T) {
	book, err := contacts.Parse(strings.NewReader("BEGIN:VCARD\nVERSION:4.0\nFN:Grace Hopper\nEMAIL:grace@example.com\nEND:VCARD\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	e := newTestExecutor(t, 1, NewLookupContactTool(book))

	results := e.Run(context.Background(), []llm.ToolCall{
		call("c1", LookupContactToolName, map[string]any{"name": "grace"}),
		call("c2", LookupContactToolName, map[string]any{"name": "linus"}),
	})

	var found []contacts.Contact
	if err := json.Unmarshal([]byte(results[0].Content), &found); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(found) != 1 || found[0].Email != "grace@example.com" {
		t.Errorf("found = %+v", found)
	}
	if results[1].IsError || results[1].Content != "[]" {
		t.Errorf("no match result = %+v, want []", results[1])
	}
}
