package pagination

import "gorm.io/gorm"

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

// Request is an explicit offset/limit page request for append-only history
// listings (payments, distributions, transfers).
type Request struct {
	Page    int `form:"page" json:"page"`
	PerPage int `form:"per_page" json:"per_page"`
}

// PageInfo describes the returned page.
type PageInfo struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalCount int64 `json:"total_count"`
}

func (r Request) normalized() Request {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PerPage < 1 {
		r.PerPage = defaultPerPage
	}
	if r.PerPage > maxPerPage {
		r.PerPage = maxPerPage
	}
	return r
}

// Scope applies the page request to a gorm query.
func (r Request) Scope() func(*gorm.DB) *gorm.DB {
	n := r.normalized()
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Offset((n.Page - 1) * n.PerPage).Limit(n.PerPage)
	}
}

// Info builds the PageInfo for a total row count.
func (r Request) Info(total int64) PageInfo {
	n := r.normalized()
	return PageInfo{Page: n.Page, PerPage: n.PerPage, TotalCount: total}
}
