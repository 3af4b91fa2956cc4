// Package contacts resolves attendee names to email addresses from a
// vCard address book, so the agent can invite "Ada" without asking for
// her address.
package contacts

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/emersion/go-vcard"
)

// Contact is one addressable person from the address book.
type Contact struct {
	DisplayName  string   `json:"displayName"`
	Email        string   `json:"email"`
	OtherEmails  []string `json:"otherEmails,omitempty"`
	Organization string   `json:"organization,omitempty"`
}

// Book is an in-memory, read-only address book.
type Book struct {
	contacts []Contact
}

// LoadFile reads a .vcf file containing one or more vCards.
func LoadFile(path string, logger *slog.Logger) (*Book, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open address book: %w", err)
	}
	defer f.Close()

	b, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if logger != nil {
		logger.Info("address book loaded", "path", path, "contacts", b.Len())
	}
	return b, nil
}

// Parse decodes vCards from r. Cards without any email address are
// skipped; they cannot be invited.
func Parse(r io.Reader) (*Book, error) {
	dec := vcard.NewDecoder(r)
	b := &Book{}
	for {
		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		c, ok := fromCard(card)
		if !ok {
			continue
		}
		b.contacts = append(b.contacts, c)
	}
	sort.SliceStable(b.contacts, func(i, j int) bool {
		return strings.ToLower(b.contacts[i].DisplayName) < strings.ToLower(b.contacts[j].DisplayName)
	})
	return b, nil
}

func fromCard(card vcard.Card) (Contact, bool) {
	emails := card.Values(vcard.FieldEmail)
	if len(emails) == 0 {
		return Contact{}, false
	}
	c := Contact{
		DisplayName:  card.PreferredValue(vcard.FieldFormattedName),
		Email:        card.PreferredValue(vcard.FieldEmail),
		Organization: card.PreferredValue(vcard.FieldOrganization),
	}
	if c.DisplayName == "" {
		if n := card.Name(); n != nil {
			c.DisplayName = strings.TrimSpace(n.GivenName + " " + n.FamilyName)
		}
	}
	if c.DisplayName == "" {
		c.DisplayName = c.Email
	}
	for _, e := range emails {
		if e != c.Email {
			c.OtherEmails = append(c.OtherEmails, e)
		}
	}
	return c, true
}

// Len returns the number of contacts.
func (b *Book) Len() int {
	if b == nil {
		return 0
	}
	return len(b.contacts)
}

// Find returns contacts whose display name or email contains name,
// case-insensitively. Exact display-name matches sort first.
func (b *Book) Find(name string) []Contact {
	if b == nil {
		return nil
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil
	}

	var exact, partial []Contact
	for _, c := range b.contacts {
		dn := strings.ToLower(c.DisplayName)
		switch {
		case dn == needle:
			exact = append(exact, c)
		case strings.Contains(dn, needle) || strings.Contains(strings.ToLower(c.Email), needle):
			partial = append(partial, c)
		}
	}
	return append(exact, partial...)
}
