package source

import (
	"strings"

	"github.com/crmsync/leadrelay/internal/core/domain"
)

// Canonical header keys after normalization.
const (
	keyEmail     = "email"
	keyFirstName = "firstname"
	keyLastName  = "lastname"
	keyPhone     = "phone"
	keyCampaign  = "campaign"
	keySource    = "source"
	keyNotes     = "notes"
)

// headerAliases maps normalized header spellings onto canonical keys, so
// camelCase and snake_case tabs produce identical leads (and therefore
// identical fingerprints).
var headerAliases = map[string]string{
	"email":        keyEmail,
	"emailaddress": keyEmail,
	"mail":         keyEmail,
	"firstname":    keyFirstName,
	"fname":        keyFirstName,
	"givenname":    keyFirstName,
	"lastname":     keyLastName,
	"lname":        keyLastName,
	"surname":      keyLastName,
	"familyname":   keyLastName,
	"phone":        keyPhone,
	"phonenumber":  keyPhone,
	"mobile":       keyPhone,
	"telephone":    keyPhone,
	"campaign":     keyCampaign,
	"campaignname": keyCampaign,
	"source":       keySource,
	"leadsource":   keySource,
	"notes":        keyNotes,
	"comment":      keyNotes,
	"comments":     keyNotes,
}

// normalizeHeader collapses a header cell to its canonical key: lowercase
// with underscores, dashes and spaces removed, then alias-resolved.
func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		switch r {
		case ' ', '_', '-':
		default:
			b.WriteRune(r)
		}
	}
	key := b.String()
	if canonical, ok := headerAliases[key]; ok {
		return canonical
	}
	return key
}

// HeaderIndex builds the canonical-key → column-index map for a header row.
// The first column claiming a key wins.
func HeaderIndex(headerRow []string) map[string]int {
	idx := make(map[string]int, len(headerRow))
	for i, h := range headerRow {
		key := normalizeHeader(h)
		if key == "" {
			continue
		}
		if _, taken := idx[key]; !taken {
			idx[key] = i
		}
	}
	return idx
}

// Candidates turns a fetched tab (header row first) into candidate records.
func Candidates(rows [][]string, sourceID, tabName string) []domain.CandidateRecord {
	if len(rows) < 2 {
		return nil
	}
	headers := HeaderIndex(rows[0])
	out := make([]domain.CandidateRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		out = append(out, domain.CandidateRecord{
			Cells:   row,
			Headers: headers,
			Location: domain.Location{
				SourceID: sourceID,
				TabName:  tabName,
				Row:      i + 2, // 1-based, after the header row
			},
		})
	}
	return out
}

// MapLead builds the normalized payload for one candidate. Returns false
// when the row has no email, the one field delivery cannot work without.
func MapLead(c domain.CandidateRecord) (domain.Lead, bool) {
	lead := domain.Lead{
		Email:     strings.TrimSpace(c.Cell(keyEmail)),
		FirstName: strings.TrimSpace(c.Cell(keyFirstName)),
		LastName:  strings.TrimSpace(c.Cell(keyLastName)),
		Phone:     strings.TrimSpace(c.Cell(keyPhone)),
		Campaign:  strings.TrimSpace(c.Cell(keyCampaign)),
		Source:    strings.TrimSpace(c.Cell(keySource)),
		Notes:     strings.TrimSpace(c.Cell(keyNotes)),
	}
	if lead.Email == "" {
		return domain.Lead{}, false
	}
	return lead, true
}
