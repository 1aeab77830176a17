package common

import (
	"net/http"
	"strconv"
)

// MaxPerPage caps the page size a client may ask for.
const MaxPerPage = 200

// Pagination describes the page returned alongside a list.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// ParsePagination reads ?page= and ?limit=. Missing or non-positive values
// fall back to page 1 and defaultPerPage; limit is clamped to MaxPerPage.
func ParsePagination(r *http.Request, defaultPerPage int) Pagination {
	q := r.URL.Query()
	p := Pagination{Page: 1, PerPage: defaultPerPage}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		p.Page = n
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		p.PerPage = n
	}
	p.PerPage = min(max(p.PerPage, 1), MaxPerPage)
	return p
}

// Window records total and returns the [lo, hi) slice bounds of the current
// page. A page past the end yields an empty window.
func (p *Pagination) Window(total int) (lo, hi int) {
	p.PerPage = max(p.PerPage, 1)
	p.Page = max(p.Page, 1)
	p.TotalItems = total
	p.TotalPages = (total + p.PerPage - 1) / p.PerPage
	lo = min((p.Page-1)*p.PerPage, total)
	hi = min(lo+p.PerPage, total)
	return lo, hi
}
