package netius

import (
	"sync"
	"weak"
)

// registry tracks in-flight Futures using weak pointers so the garbage
// collector can reclaim one the caller dropped without ever reading its
// result, and periodically scavenges settled or collected entries out of
// the ring buffer. Used by Loop to bound the memory a long-running server
// retains for abandoned Futures (e.g. a CreateConnection call whose
// caller stopped awaiting it).
type registry struct {
	data map[uint64]weak.Pointer[future]

	ring []uint64
	head int

	nextID uint64
	mu     sync.RWMutex

	scavengeMu sync.Mutex
}

func newRegistry() *registry {
	return &registry{
		data:   make(map[uint64]weak.Pointer[future]),
		ring:   make([]uint64, 0, 1024),
		nextID: 1,
	}
}

// Track registers f (already constructed via NewFuture) in the registry
// and returns its ID, for later correlation or cancellation lookup.
func (r *registry) Track(f *future) uint64 {
	wp := weak.Make(f)

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++

	r.data[id] = wp
	r.ring = append(r.ring, id)

	return id
}

// Scavenge performs a partial cleanup of dead or settled Futures. It
// iterates through a batch of the ring buffer, checking for GC'd or
// non-Running futures.
func (r *registry) Scavenge(batchSize int) {
	r.scavengeMu.Lock()
	defer r.scavengeMu.Unlock()

	if batchSize <= 0 {
		return
	}

	r.mu.RLock()
	ringLen := len(r.ring)
	if ringLen == 0 {
		r.mu.RUnlock()
		return
	}

	start := r.head
	end := min(start+batchSize, ringLen)

	type item struct {
		id  uint64
		idx int
	}
	items := make([]item, 0, end-start)

	for i := start; i < end; i++ {
		id := r.ring[i]
		if id != 0 {
			items = append(items, item{id, i})
		}
	}

	wps := make([]weak.Pointer[future], len(items))
	validItems := items[:0]

	for _, it := range items {
		if wp, ok := r.data[it.id]; ok {
			wps[len(validItems)] = wp
			validItems = append(validItems, it)
		}
	}
	wps = wps[:len(validItems)]

	nextHead := end
	if nextHead >= ringLen {
		nextHead = 0
	}
	r.mu.RUnlock()

	cycleCompleted := nextHead == 0

	var itemsToRemove []item

	for i, it := range validItems {
		val := wps[i].Value()

		shouldRemove := false
		if val == nil {
			shouldRemove = true
		} else if !val.Running() {
			shouldRemove = true
		}

		if shouldRemove {
			itemsToRemove = append(itemsToRemove, it)
		}
	}

	if len(itemsToRemove) > 0 || cycleCompleted {
		r.mu.Lock()

		for _, it := range itemsToRemove {
			delete(r.data, it.id)
			if it.idx < len(r.ring) && r.ring[it.idx] == it.id {
				r.ring[it.idx] = 0
			}
		}

		r.head = nextHead

		if cycleCompleted {
			active := len(r.data)
			capacity := len(r.ring)

			if capacity > 256 && float64(active) < float64(capacity)*0.25 {
				r.compactAndRenew()
			}
		}

		r.mu.Unlock()
	} else {
		r.mu.Lock()
		r.head = nextHead
		r.mu.Unlock()
	}
}

// RejectAll cancels every still-running tracked Future with err. Called
// during Loop shutdown so no awaiting goroutine is left blocked forever.
func (r *registry) RejectAll(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, wp := range r.data {
		f := wp.Value()
		if f != nil && f.Running() {
			f.SetException(err, false)
		}
		delete(r.data, id)
	}

	r.ring = r.ring[:0]
	r.head = 0
}

// compactAndRenew removes null markers from the ring buffer and rebuilds
// the map so Go can reclaim the old map's bucket array. Must be called
// with mu.Lock held.
func (r *registry) compactAndRenew() {
	newRing := make([]uint64, 0, len(r.data))
	newData := make(map[uint64]weak.Pointer[future], len(r.data))

	for _, id := range r.ring {
		if id != 0 {
			if wp, ok := r.data[id]; ok {
				newRing = append(newRing, id)
				newData[id] = wp
			}
		}
	}

	r.ring = newRing
	r.data = newData
	r.head = 0
}
