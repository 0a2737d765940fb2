package matchmaker

// sessionTable maps each paired connection id to its partner's id.
//
// A session {A, B} is stored as two entries (A->B and B->A) so partner lookup
// is a single map access from either side. Pure bookkeeping, no I/O. Not safe
// for concurrent use; the Engine's mutex serializes all access.
type sessionTable struct {
	partner map[string]string
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		partner: make(map[string]string),
	}
}

// create records the session {a, b}. It refuses self-pairing and refuses to
// pair a connection that is already in a session, leaving the table untouched.
func (t *sessionTable) create(a, b string) error {
	if a == b {
		return ErrInvariant
	}
	if _, ok := t.partner[a]; ok {
		return ErrInvariant
	}
	if _, ok := t.partner[b]; ok {
		return ErrInvariant
	}
	t.partner[a] = b
	t.partner[b] = a
	return nil
}

// lookupPartner returns the partner of id, if id is in a session.
func (t *sessionTable) lookupPartner(id string) (string, bool) {
	p, ok := t.partner[id]
	return p, ok
}

// destroy removes the session containing id and returns the partner id so the
// caller can notify it. No-op if id is not in a session.
func (t *sessionTable) destroy(id string) (string, bool) {
	p, ok := t.partner[id]
	if !ok {
		return "", false
	}
	delete(t.partner, id)
	delete(t.partner, p)
	return p, true
}

// size returns the number of active sessions.
func (t *sessionTable) size() int {
	return len(t.partner) / 2
}
