package session

// EventKind distinguishes the notification types delivered to subscribers.
type EventKind int

const (
	// EventStateChanged reports a transition of the session state machine.
	EventStateChanged EventKind = iota
	// EventProfileLoaded reports the user profile became available (or was
	// re-fetched) without a state transition.
	EventProfileLoaded
)

// Event is a notification delivered to subscribers so consumers react to
// transitions instead of polling.
type Event struct {
	Kind  EventKind
	State State
}

// Subscription is a registered listener for session events. Events are
// delivered on C; a subscriber that stops draining loses events rather
// than blocking the session subsystem.
type Subscription struct {
	C  <-chan Event
	id uint64
	m  *Manager
}

// Cancel removes the subscription. C is not closed; pending events may
// still be buffered.
func (s *Subscription) Cancel() {
	s.m.subMu.Lock()
	defer s.m.subMu.Unlock()
	delete(s.m.subs, s.id)
}

const subscriptionBuffer = 16

// Subscribe registers a listener for session events.
func (m *Manager) Subscribe() *Subscription {
	ch := make(chan Event, subscriptionBuffer)
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.nextSubID++
	id := m.nextSubID
	m.subs[id] = ch
	return &Subscription{C: ch, id: id, m: m}
}

func (m *Manager) notify(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.log.Debug().Uint64("subscriber", id).Msg("dropping event for slow subscriber")
		}
	}
}
