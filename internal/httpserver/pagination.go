package httpserver

import (
	"net/http"
	"strconv"
)

const (
	// DefaultListSize is the default page size for /v1/config/list.
	DefaultListSize = 20
	// MaxListSize is the maximum allowed page size.
	MaxListSize = 100
)

// ListParams holds the parsed query parameters for /v1/config/list (spec
// §6): a plain string cursor (the last key seen), not an encoded composite
// like a timestamp+ID pair, since configs are ordered by key alone.
type ListParams struct {
	KeyFilter string
	From      string
	Size      int
}

// ParseListParams extracts list pagination parameters from the request.
func ParseListParams(r *http.Request) (ListParams, error) {
	p := ListParams{Size: DefaultListSize}

	q := r.URL.Query()
	p.KeyFilter = q.Get("key")
	p.From = q.Get("from")

	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, NewCodedError(CodeBadParams, "size must be a positive integer")
		}
		if n > MaxListSize {
			n = MaxListSize
		}
		p.Size = n
	}

	return p, nil
}
