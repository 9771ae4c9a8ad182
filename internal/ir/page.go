package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Direction of one sort order.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Order sorts by one property path.
type Order struct {
	Property   string    `json:"property"`
	Direction  Direction `json:"direction"`
	IgnoreCase bool      `json:"ignore_case,omitempty"`
}

// Sort is an ordered list of orders. The zero value is unsorted.
type Sort []Order

// By returns an ascending sort over the given properties.
func By(properties ...string) Sort {
	s := make(Sort, 0, len(properties))
	for _, p := range properties {
		s = append(s, Order{Property: p, Direction: Asc})
	}
	return s
}

// And appends other orders after s.
func (s Sort) And(other Sort) Sort {
	out := make(Sort, 0, len(s)+len(other))
	out = append(out, s...)
	return append(out, other...)
}

// IsSorted reports whether any order is present.
func (s Sort) IsSorted() bool { return len(s) > 0 }

// ParseSort parses "name,-age,+city" where a leading '-' means descending.
func ParseSort(spec string) (Sort, error) {
	var s Sort
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		o := Order{Direction: Asc}
		switch raw[0] {
		case '-':
			o.Direction = Desc
			raw = raw[1:]
		case '+':
			raw = raw[1:]
		}
		if raw == "" {
			return nil, fmt.Errorf("sort: empty property in %q", spec)
		}
		o.Property = raw
		s = append(s, o)
	}
	return s, nil
}

// PageRequest selects one page of results. Size 0 means unpaged.
type PageRequest struct {
	Page int  `json:"page"`
	Size int  `json:"size"`
	Sort Sort `json:"sort,omitempty"`
}

// Unpaged returns a request for all results.
func Unpaged() PageRequest { return PageRequest{} }

// PageOf returns a paged request.
func PageOf(page, size int) PageRequest { return PageRequest{Page: page, Size: size} }

// IsPaged reports whether the request limits results.
func (p PageRequest) IsPaged() bool { return p.Size > 0 }

// Offset returns the index of the first row of the page.
func (p PageRequest) Offset() int { return p.Page * p.Size }

// ParsePageRequest parses "page:size" (e.g. "0:20").
func ParsePageRequest(spec string) (PageRequest, error) {
	pageStr, sizeStr, ok := strings.Cut(spec, ":")
	if !ok {
		return PageRequest{}, fmt.Errorf("page request %q: want page:size", spec)
	}
	page, err := strconv.Atoi(strings.TrimSpace(pageStr))
	if err != nil || page < 0 {
		return PageRequest{}, fmt.Errorf("page request %q: invalid page", spec)
	}
	size, err := strconv.Atoi(strings.TrimSpace(sizeStr))
	if err != nil || size < 0 {
		return PageRequest{}, fmt.Errorf("page request %q: invalid size", spec)
	}
	return PageOf(page, size), nil
}

// Slice is a window of results that knows whether more follow.
type Slice struct {
	Content []any       `json:"content"`
	Request PageRequest `json:"request"`
	HasNext bool        `json:"has_next"`
}

// Page is a window of results plus the total row count.
type Page struct {
	Content []any       `json:"content"`
	Request PageRequest `json:"request"`
	Total   int64       `json:"total"`
}

// TotalPages returns the number of pages for the request size.
func (p Page) TotalPages() int {
	if !p.Request.IsPaged() {
		return 1
	}
	size := int64(p.Request.Size)
	return int((p.Total + size - 1) / size)
}

// HasNext reports whether a later page exists.
func (p Page) HasNext() bool { return p.Request.Page+1 < p.TotalPages() }

// Projection is a dynamic projection argument: the property paths to keep.
type Projection []string
