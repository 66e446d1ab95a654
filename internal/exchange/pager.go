package exchange

import (
	"context"
	"fmt"
)

// PageFunc fetches one page starting at cursor ("" for the first page) and
// returns the cursor of the next page.
type PageFunc[T any] func(ctx context.Context, cursor string) (items []T, next string, err error)

// Walk iterates pages until a page shorter than pageSize. visit may stop the
// walk early by returning true. maxPages <= 0 means no limit.
func Walk[T any](ctx context.Context, pageSize, maxPages int, fetch PageFunc[T], visit func(page []T) bool) error {
	cursor := ""
	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, next, err := fetch(ctx, cursor)
		if err != nil {
			return err
		}
		if visit(items) {
			return nil
		}
		if len(items) < pageSize {
			return nil
		}
		if next == "" || next == cursor {
			return fmt.Errorf("%w: cursor did not advance after %q", ErrPartialData, cursor)
		}
		cursor = next
	}
	return fmt.Errorf("%w: more than %d pages", ErrPartialData, maxPages)
}

// Paginate concatenates all pages into one flat list.
func Paginate[T any](ctx context.Context, pageSize, maxPages int, fetch PageFunc[T]) ([]T, error) {
	var out []T
	err := Walk(ctx, pageSize, maxPages, fetch, func(page []T) bool {
		out = append(out, page...)
		return false
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
