package domain

// Lead is the normalized payload submitted to the CRM. It is built once
// from a CandidateRecord and never mutated afterwards.
type Lead struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Campaign  string `json:"campaign,omitempty"`
	Source    string `json:"source,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Location identifies where a candidate row came from.
type Location struct {
	SourceID string `json:"source_id"`
	TabName  string `json:"tab_name"`
	Row      int    `json:"row"`
}

// String renders a location as "sourceID/tab" for logs and counters. The
// row number is deliberately left out so counters aggregate per tab.
func (l Location) String() string {
	if l.TabName == "" {
		return l.SourceID
	}
	return l.SourceID + "/" + l.TabName
}
