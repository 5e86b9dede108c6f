package domain

// CandidateRecord is one raw row from the tabular source, paired with the
// header-name index for its tab. Ephemeral: rebuilt on every poll cycle,
// never persisted.
type CandidateRecord struct {
	Cells    []string
	Headers  map[string]int
	Location Location
}

// Cell returns the value under a header name, or "" when the column is
// absent or the row is short.
func (c CandidateRecord) Cell(header string) string {
	idx, ok := c.Headers[header]
	if !ok || idx < 0 || idx >= len(c.Cells) {
		return ""
	}
	return c.Cells[idx]
}
