package chat

import "sort"

// room is the cached message list of one chatroom.
// version grows on every mutation; added[i] is the version at which messages[i] was stored.
type room struct {
	messages []Message
	added    []uint64
	version  uint64
}

// append stores msgs at the end in the order given
func (r *room) append(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	r.version++
	for _, m := range msgs {
		r.messages = append(r.messages, m)
		r.added = append(r.added, r.version)
	}
}

// replace drops the current content and stores msgs
func (r *room) replace(msgs []Message) {
	r.version++
	r.messages = make([]Message, len(msgs))
	copy(r.messages, msgs)
	r.added = make([]uint64, len(msgs))
	for i := range r.added {
		r.added[i] = r.version
	}
}

// swap replaces the message with id in place and reports whether it was found
func (r *room) swap(id string, m Message) bool {
	for i := range r.messages {
		if r.messages[i].ID == id {
			r.version++
			r.messages[i] = m
			r.added[i] = r.version
			return true
		}
	}
	return false
}

// resync installs history fetched when the room was at version since.
// Without intervening mutations this is a total replace. Otherwise, messages stored after since
// that are not part of history (by id) and pass keep are re-appended after it,
// so a slow fetch cannot clobber newer realtime arrivals.
func (r *room) resync(history []Message, since uint64, keep func(Message) bool) (kept int) {
	if r.version == since {
		r.replace(history)
		return 0
	}

	inHistory := make(map[string]struct{}, len(history))
	for _, m := range history {
		if m.ID != "" {
			inHistory[m.ID] = struct{}{}
		}
	}

	merged := make([]Message, len(history), len(history)+len(r.messages))
	copy(merged, history)
	for i, m := range r.messages {
		if r.added[i] <= since {
			continue
		}
		if _, ok := inHistory[m.ID]; ok && m.ID != "" {
			continue
		}
		if keep != nil && !keep(m) {
			continue
		}
		merged = append(merged, m)
		kept++
	}

	r.replace(merged)
	return kept
}

// raw returns a copy in cache order
func (r *room) raw() []Message {
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// sorted returns a copy ordered by timestamp ascending; equal timestamps keep cache order
func (r *room) sorted() []Message {
	out := r.raw()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
