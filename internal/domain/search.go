package domain

// SearchHit is a single document reference returned by a search provider.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// ProviderResult is the answer from one search backend. A provider failure
// sets only Err; it never fails the aggregate search.
type ProviderResult struct {
	Provider string      `json:"provider"`
	Answer   string      `json:"answer"`
	Hits     []SearchHit `json:"hits,omitempty"`
	Err      string      `json:"error,omitempty"`
}

// SearchOutcome is the aggregate of one fan-out across all providers plus
// the single-sentence synthesis over the non-error answers.
type SearchOutcome struct {
	Summary string           `json:"summary"`
	Results []ProviderResult `json:"results"`
}
