package repositories

import (
	"fmt"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/pagination"
)

// PageWindow resolves a pager into an offset and a limit.
func PageWindow(pager domain.Pagination) (offset int, limit int, err error) {
	offset, err = pagination.DecodeOffset(pager.PageToken)
	if err != nil {
		return 0, 0, fmt.Errorf("page token: %w", err)
	}
	return offset, pagination.Limit(pager.PageSize), nil
}

// BuildPage packages up to limit items. fetched may hold one extra item, which
// signals that another page exists.
func BuildPage[T any](fetched []T, offset, limit int) domain.CursorPage[T] {
	page := domain.CursorPage[T]{Items: fetched}
	if len(fetched) > limit {
		page.Items = fetched[:limit]
		page.NextPageToken = pagination.EncodeOffset(offset + limit)
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page
}

// SlicePage pages an already sorted in-memory slice.
func SlicePage[T any](all []T, pager domain.Pagination) (domain.CursorPage[T], error) {
	offset, limit, err := PageWindow(pager)
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	if offset >= len(all) {
		return domain.CursorPage[T]{Items: []T{}}, nil
	}
	end := offset + limit + 1
	if end > len(all) {
		end = len(all)
	}
	return BuildPage(all[offset:end], offset, limit), nil
}
