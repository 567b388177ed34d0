package construction

import (
	"sort"

	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/world"
)

// buildQueue is the pending work list. Lower priority values go first and
// equal priorities keep insertion order.
type buildQueue struct {
	items []world.QueueItem
}

func (q *buildQueue) Len() int { return len(q.items) }

func (q *buildQueue) Push(items ...world.QueueItem) { q.items = append(q.items, items...) }

func (q *buildQueue) PushFront(it world.QueueItem) {
	q.items = append([]world.QueueItem{it}, q.items...)
}

func (q *buildQueue) Pop() (world.QueueItem, bool) {
	if len(q.items) == 0 {
		return world.QueueItem{}, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it, true
}

func (q *buildQueue) Sort() {
	sort.SliceStable(q.items, func(i, j int) bool { return q.items[i].Priority < q.items[j].Priority })
}

// Promote moves the first item of category c to the front with emergency
// priority. It reports whether one was found.
func (q *buildQueue) Promote(c catalogs.Category) bool {
	for i, it := range q.items {
		if it.Category != c {
			continue
		}
		it.Priority = catalogs.BandEmergency
		copy(q.items[1:i+1], q.items[:i])
		q.items[0] = it
		return true
	}
	return false
}

func (q *buildQueue) Clear() { q.items = nil }

func (q *buildQueue) Snapshot() []world.QueueItem {
	return append([]world.QueueItem(nil), q.items...)
}
