package retrieval

import "errors"

var (
	// ErrInvalidConfig indicates a searcher was built with unusable settings.
	ErrInvalidConfig = errors.New("invalid retrieval configuration")

	// ErrSearchFailed indicates the search backend returned an error.
	ErrSearchFailed = errors.New("search failed")

	// ErrEmptyQuery indicates a search was attempted with no query text.
	ErrEmptyQuery = errors.New("empty query")
)
