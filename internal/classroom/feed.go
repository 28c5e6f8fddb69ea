package classroom

// Feed is an append-only log with position-based retrieval. Indices are
// stable for the life of the feed, so any previously returned cursor stays
// valid to replay from. Delivery on replay is at-least-once: resetting a
// cursor to zero yields the full history again.
//
// Feed is not safe for concurrent use on its own; the owning Room serializes
// access under its lock.
type Feed[T any] struct {
	items []T
}

// Append adds an item to the end of the feed.
func (f *Feed[T]) Append(item T) {
	f.items = append(f.items, item)
}

// Since returns the suffix of the feed starting at cursor plus the cursor to
// use on the next call. A cursor at or beyond the current length yields an
// empty result and the same cursor back; negative cursors read from the
// start. The returned slice is a copy and stays valid after further appends.
func (f *Feed[T]) Since(cursor int) ([]T, int) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(f.items) {
		return nil, cursor
	}
	items := append([]T(nil), f.items[cursor:]...)
	return items, cursor + len(items)
}

// Len reports the number of items appended so far.
func (f *Feed[T]) Len() int {
	return len(f.items)
}
