package planner

import (
	"fmt"
	"math"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// PageLimits bounds pagination. Zero fields fall back to the package defaults.
type PageLimits struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (l PageLimits) normalized() PageLimits {
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = MaxPageSize
	}
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = DefaultPageSize
	}
	if l.DefaultPageSize > l.MaxPageSize {
		l.DefaultPageSize = l.MaxPageSize
	}
	return l
}

// Pagination is the resolved row window.
type Pagination struct {
	Page     int
	PageSize int
	Offset   uint64
	// Clamped is set when the requested size exceeded the maximum.
	Clamped   bool
	Requested int
}

// Paginate validates page and pageSize. Oversized pages are clamped rather
// than rejected.
func (l PageLimits) Paginate(page, pageSize int) (Pagination, error) {
	l = l.normalized()
	if page < 1 {
		return Pagination{}, Errorf(KindInvalidQuery, "page must be at least 1, got %d", page)
	}
	if pageSize < 0 {
		return Pagination{}, Errorf(KindInvalidQuery, "pageSize must be positive, got %d", pageSize)
	}

	p := Pagination{Page: page, PageSize: pageSize, Requested: pageSize}
	if p.PageSize == 0 {
		p.PageSize = l.DefaultPageSize
	}
	if p.PageSize > l.MaxPageSize {
		p.PageSize = l.MaxPageSize
		p.Clamped = true
	}
	// Offset is rendered as a signed 64-bit value by every dialect.
	if uint64(page-1) > uint64(math.MaxInt64)/uint64(p.PageSize) {
		return Pagination{}, Errorf(KindInvalidQuery, "page %d is out of range for pageSize %d", page, p.PageSize)
	}
	p.Offset = uint64(page-1) * uint64(p.PageSize)
	return p, nil
}

func (p Pagination) clampWarning(max int) string {
	return fmt.Sprintf("pageSize %d exceeds the maximum of %d and was clamped", p.Requested, max)
}
