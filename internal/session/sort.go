package session

import (
	"bytes"
	"sort"
	"time"

	uuid "github.com/satori/go.uuid"
)

// sortByStart orders items by (time, id) ascending, giving a stable total
// order even when two entities share a timestamp.
func sortByStart[T any](items []T, key func(T) (time.Time, uuid.UUID)) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return bytes.Compare(idi.Bytes(), idj.Bytes()) < 0
	})
}
