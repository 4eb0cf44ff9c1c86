package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Type       string `json:"type"`
	SurgeryID  string `json:"surgeryId"`
	CategoryID string `json:"categoryId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	SurgeryID       string
	FilterType      string // PAGE or LIST; empty = both
	FilterCategory  string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ItemRecord is the data we index for a handbook item. Body holds the plain
// text extracted from the item's content blocks.
type ItemRecord struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Type       string `json:"type"`
	SurgeryID  string `json:"surgeryId"`
	CategoryID string `json:"categoryId"`
}
