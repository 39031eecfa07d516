package store

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
)

const (
	DefaultPerPage = 15
	MaxPerPage     = 100
)

// PageRequest asks for one page of a listing. Page is 1-indexed.
type PageRequest struct {
	Page    int
	PerPage int
	Search  string
}

// Validate rejects bounds the listing does not serve
func (r PageRequest) Validate() error {
	fields := map[string][]string{}
	if r.Page < 0 {
		fields["page"] = []string{"The page must be at least 1."}
	}
	if r.PerPage < 0 || r.PerPage > MaxPerPage {
		fields["per_page"] = []string{fmt.Sprintf("The per page must be between 1 and %d.", MaxPerPage)}
	}
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}

// normalized fills defaults for zero values
func (r PageRequest) normalized() PageRequest {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PerPage < 1 {
		r.PerPage = DefaultPerPage
	}
	if r.PerPage > MaxPerPage {
		r.PerPage = MaxPerPage
	}
	return r
}

// Page is one page of results plus totals
type Page[T any] struct {
	Data        []T   `json:"data"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	LastPage    int   `json:"last_page"`
}

// byName is the stable listing order of named resources
func byName(table string) string {
	return table + ".name ASC, " + table + ".id ASC"
}

// paginate counts and fetches one page of build() in the given order.
// build is called twice so the count and the fetch never share statement state.
func paginate[T any](build func() *gorm.DB, req PageRequest, orderBy string, preloads ...string) (*Page[T], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.normalized()

	var total int64
	if err := build().Count(&total).Error; err != nil {
		return nil, apperr.Internal("failed to count records", err)
	}

	items := make([]T, 0, req.PerPage)
	q := build()
	for _, p := range preloads {
		q = q.Preload(p)
	}
	err := q.Order(orderBy).
		Offset((req.Page - 1) * req.PerPage).
		Limit(req.PerPage).
		Find(&items).Error
	if err != nil {
		return nil, apperr.Internal("failed to list records", err)
	}

	lastPage := int((total + int64(req.PerPage) - 1) / int64(req.PerPage))
	if lastPage < 1 {
		lastPage = 1
	}

	return &Page[T]{
		Data:        items,
		CurrentPage: req.Page,
		PerPage:     req.PerPage,
		Total:       total,
		LastPage:    lastPage,
	}, nil
}
