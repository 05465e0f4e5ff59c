package resource

// slots is the handle storage behind a Table. Released handles are
// recycled through a free list. Callers hold the table lock.
type slots struct {
	entries  []slot
	freeList []Handle
	live     int
}

type slot struct {
	entry Entry
	valid bool
}

func newSlots() slots {
	return slots{
		entries:  make([]slot, 0, 64),
		freeList: make([]Handle, 0, 16),
	}
}

func (s *slots) create(e Entry) Handle {
	s.live++
	if n := len(s.freeList); n > 0 {
		h := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		s.entries[h-1] = slot{entry: e, valid: true}
		return h
	}
	s.entries = append(s.entries, slot{entry: e, valid: true})
	return Handle(len(s.entries))
}

func (s *slots) get(h Handle) (*slot, bool) {
	if h == 0 || int(h) > len(s.entries) {
		return nil, false
	}
	sl := &s.entries[h-1]
	if !sl.valid {
		return nil, false
	}
	return sl, true
}

func (s *slots) drop(h Handle) (Entry, bool) {
	sl, ok := s.get(h)
	if !ok {
		return Entry{}, false
	}
	e := sl.entry
	*sl = slot{}
	s.freeList = append(s.freeList, h)
	s.live--
	return e, true
}

// each visits live slots in handle order until fn returns false.
func (s *slots) each(fn func(Handle, Entry) bool) {
	for i := range s.entries {
		if s.entries[i].valid && !fn(Handle(i+1), s.entries[i].entry) {
			return
		}
	}
}

func (s *slots) reset() {
	s.entries = nil
	s.freeList = nil
	s.live = 0
}
