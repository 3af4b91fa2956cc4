package tools

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nugget/meetly/internal/contacts"
)

// LookupContactToolName resolves people to email addresses.
const LookupContactToolName = "lookupContact"

// ContactFinder is the part of an address book the tool needs.
type ContactFinder interface {
	Find(name string) []contacts.Contact
}

// NewLookupContactTool returns a capability that searches book by name.
func NewLookupContactTool(book ContactFinder) Capability {
	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name": {Type: "string", Description: "Full or partial name of the person"},
		},
		Required: []string{"name"},
	}
	return NewTool(LookupContactToolName,
		"Look up a person's email address in the user's address book. Use before inviting someone by name.",
		schema,
		func(_ context.Context, args map[string]any) (string, error) {
			name, _ := args["name"].(string)
			found := book.Find(name)
			if found == nil {
				found = []contacts.Contact{}
			}
			out, err := json.Marshal(found)
			if err != nil {
				return "", err
			}
			return string(out), nil
		})
}
