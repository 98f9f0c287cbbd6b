package chatsync

import (
	"sort"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
)

// timeline is an ordered, id-deduplicated message list. Direct and group
// stores share it; only the id and timestamp accessors differ.
type timeline[T any] struct {
	items   []T
	id      func(*T) uint
	created func(*T) time.Time
}

func newDirectTimeline() *timeline[models.DirectMessage] {
	return &timeline[models.DirectMessage]{
		id:      func(m *models.DirectMessage) uint { return m.ID },
		created: func(m *models.DirectMessage) time.Time { return m.CreatedAt },
	}
}

func newGroupTimeline() *timeline[models.GroupMessage] {
	return &timeline[models.GroupMessage]{
		id:      func(m *models.GroupMessage) uint { return m.ID },
		created: func(m *models.GroupMessage) time.Time { return m.CreatedAt },
	}
}

func (tl *timeline[T]) less(a, b *T) bool {
	ca, cb := tl.created(a), tl.created(b)
	if ca.Equal(cb) {
		return tl.id(a) < tl.id(b)
	}
	return ca.Before(cb)
}

func (tl *timeline[T]) index(id uint) int {
	for i := range tl.items {
		if tl.id(&tl.items[i]) == id {
			return i
		}
	}
	return -1
}

func (tl *timeline[T]) has(id uint) bool {
	return tl.index(id) >= 0
}

// insert adds item at its ordered position. An item whose id is already
// present is ignored, which is what keeps the optimistic and push paths from
// duplicating each other.
func (tl *timeline[T]) insert(item T) bool {
	if tl.has(tl.id(&item)) {
		return false
	}
	pos := sort.Search(len(tl.items), func(i int) bool {
		return tl.less(&item, &tl.items[i])
	})
	tl.items = append(tl.items, item)
	copy(tl.items[pos+1:], tl.items[pos:])
	tl.items[pos] = item
	return true
}

func (tl *timeline[T]) update(id uint, fn func(*T)) bool {
	i := tl.index(id)
	if i < 0 {
		return false
	}
	fn(&tl.items[i])
	return true
}

func (tl *timeline[T]) get(id uint) (T, bool) {
	i := tl.index(id)
	if i < 0 {
		var zero T
		return zero, false
	}
	return tl.items[i], true
}

func (tl *timeline[T]) remove(id uint) bool {
	i := tl.index(id)
	if i < 0 {
		return false
	}
	tl.items = append(tl.items[:i], tl.items[i+1:]...)
	return true
}

// reset replaces the contents, deduplicating and ordering items.
func (tl *timeline[T]) reset(items []T) {
	tl.items = make([]T, 0, len(items))
	for _, item := range items {
		tl.insert(item)
	}
}

func (tl *timeline[T]) len() int {
	return len(tl.items)
}

func (tl *timeline[T]) last() (T, bool) {
	if len(tl.items) == 0 {
		var zero T
		return zero, false
	}
	return tl.items[len(tl.items)-1], true
}

func (tl *timeline[T]) snapshot(clone func(T) T) []T {
	out := make([]T, len(tl.items))
	for i, item := range tl.items {
		out[i] = clone(item)
	}
	return out
}
