package protocol

// Result accumulates resolved image URLs. PrimaryURL is fixed by the first
// Add and never reassigned.
type Result struct {
	PrimaryURL string   `json:"url"`
	AllURLs    []string `json:"urls"`
}

// Add appends url, setting PrimaryURL if it is still empty.
func (r *Result) Add(url string) {
	if url == "" {
		return
	}
	r.AllURLs = append(r.AllURLs, url)
	if r.PrimaryURL == "" {
		r.PrimaryURL = url
	}
}

// Found reports whether at least one URL was resolved.
func (r *Result) Found() bool {
	return r != nil && len(r.AllURLs) > 0
}

// ResultOf builds a Result from urls in order.
func ResultOf(urls ...string) *Result {
	r := &Result{}
	for _, u := range urls {
		r.Add(u)
	}
	return r
}
