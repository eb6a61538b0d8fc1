package library

import (
	"context"
	"fmt"
)

// LookupLimit bounds every lookup result page.
const LookupLimit = 10

// LookupResult is one row of a lookup: the identifier to submit and the text
// to show next to it.
type LookupResult struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// SearchBooks matches q case-insensitively against title, author, ISBN and
// book identifier and returns at most LookupLimit books.
func (d *Database) SearchBooks(ctx context.Context, q string) ([]*Book, error) {
	return d.ListBooks(ctx, BookFilter{Search: q, Limit: LookupLimit})
}

// SearchMembers matches q against first and last name, member identifier and
// registration number and returns at most LookupLimit members.
func (d *Database) SearchMembers(ctx context.Context, q string) ([]*Member, error) {
	return d.ListMembers(ctx, MemberFilter{Search: q, Limit: LookupLimit})
}

// AvailableBooks lists books with at least one copy on the shelf.
func (d *Database) AvailableBooks(ctx context.Context, q string) ([]*Book, error) {
	return d.ListBooks(ctx, BookFilter{Search: q, AvailableOnly: true})
}

// BookLookup renders books for a lookup widget.
func BookLookup(books []*Book) []LookupResult {
	out := make([]LookupResult, 0, len(books))
	for _, b := range books {
		out = append(out, LookupResult{
			ID:   b.BookID,
			Text: fmt.Sprintf("%s by %s (Available: %d)", b.Title, b.Author, b.AvailableCopies),
		})
	}
	return out
}

// MemberLookup renders members for a lookup widget.
func MemberLookup(members []*Member) []LookupResult {
	out := make([]LookupResult, 0, len(members))
	for _, m := range members {
		text := m.FullName()
		if m.RegistrationNumber != "" {
			text += " - " + m.RegistrationNumber
		}
		out = append(out, LookupResult{ID: m.MemberID, Text: text})
	}
	return out
}
