package api

import (
	"net/http"
	"strconv"
)

// defaultLimit is the page size when the client does not specify one.
const defaultLimit = 20

// maxLimit caps the page size a client may request.
const maxLimit = 100

// pagination holds parsed limit/offset query parameters.
type pagination struct {
	Limit  int
	Offset int
}

// PaginatedResponse is the standard shape for list endpoints.
type PaginatedResponse struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// parsePagination extracts limit and offset query parameters. Limits above
// maxLimit are clamped rather than rejected. Returns a user-facing error
// message on invalid input, or "" on success.
func parsePagination(r *http.Request) (pagination, string) {
	p := pagination{Limit: defaultLimit, Offset: 0}

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, "limit must be a positive integer"
		}
		if n > maxLimit {
			n = maxLimit
		}
		p.Limit = n
	}

	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, "offset must be a non-negative integer"
		}
		p.Offset = n
	}

	return p, ""
}
