package matchmaker

// waitingPool is an ordered set of connection ids seeking a partner.
//
// Ordering is FIFO: the longest-waiting id is matched first. Not safe for
// concurrent use; the Engine's mutex serializes all access.
type waitingPool struct {
	order   []string
	present map[string]struct{}
}

func newWaitingPool() *waitingPool {
	return &waitingPool{
		present: make(map[string]struct{}),
	}
}

// enqueue appends id to the pool. It is idempotent: enqueueing an id that is
// already present is a no-op and reports false.
func (p *waitingPool) enqueue(id string) bool {
	if _, ok := p.present[id]; ok {
		return false
	}
	p.present[id] = struct{}{}
	p.order = append(p.order, id)
	return true
}

// dequeueOldest removes and returns the longest-waiting id.
func (p *waitingPool) dequeueOldest() (string, bool) {
	for len(p.order) > 0 {
		id := p.order[0]
		p.order = p.order[1:]
		// Skip ids removed by cancel/disconnect; removal only clears the
		// presence set so dequeue stays O(1) amortized.
		if _, ok := p.present[id]; ok {
			delete(p.present, id)
			return id, true
		}
	}
	return "", false
}

// remove drops id from the pool. No-op if absent.
func (p *waitingPool) remove(id string) bool {
	if _, ok := p.present[id]; !ok {
		return false
	}
	delete(p.present, id)
	return true
}

func (p *waitingPool) contains(id string) bool {
	_, ok := p.present[id]
	return ok
}

func (p *waitingPool) size() int {
	return len(p.present)
}
