package resource

// DefaultListLimit is the page size when the client does not send one.
const DefaultListLimit = 10

// List is the non-persistent pagination wrapper returned by list
// operations and embedded as sublists (charge refunds, invoice lines).
type List struct {
	URL        string
	Data       []map[string]any
	TotalCount int
	HasMore    bool
}

// Export renders the list envelope.
func (l *List) Export() map[string]any {
	data := l.Data
	if data == nil {
		data = []map[string]any{}
	}
	return map[string]any{
		"object":      "list",
		"url":         l.URL,
		"data":        data,
		"total_count": l.TotalCount,
		"has_more":    l.HasMore,
	}
}

// Paginate applies cursor pagination over an already-filtered, ordered
// snapshot of exported items. total_count reflects the whole snapshot, not
// the page. When startingAfter matches an item's id, iteration resumes
// immediately after it. An unmatched cursor silently starts from the
// beginning, matching the simulated platform.
func Paginate(url string, items []map[string]any, limit int, startingAfter string) *List {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	start := 0
	if startingAfter != "" {
		for i, item := range items {
			if id, _ := item["id"].(string); id == startingAfter {
				start = i + 1
				break
			}
		}
	}

	end := start + limit
	if end > len(items) {
		end = len(items)
	}

	return &List{
		URL:        url,
		Data:       items[start:end],
		TotalCount: len(items),
		HasMore:    end < len(items),
	}
}
