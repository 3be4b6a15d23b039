package channel

// Session is the state of one established push stream. It is exclusively
// owned by the channel's run loop; accessors exist for diagnostics only.
type Session struct {
	sid        string
	gsessionID string

	// aid is the highest acknowledged frame id, echoed on every outgoing
	// request. Monotonic for the session's lifetime.
	aid int64

	subscribed map[string]struct{}
}

func newSession(sid, gsessionID string) *Session {
	return &Session{
		sid:        sid,
		gsessionID: gsessionID,
		subscribed: make(map[string]struct{}),
	}
}

// SID returns the session identifier from the handshake.
func (s *Session) SID() string { return s.sid }

// GSessionID returns the gsession identifier from the handshake.
func (s *Session) GSessionID() string { return s.gsessionID }

// AID returns the highest acknowledged frame id.
func (s *Session) AID() int64 { return s.aid }

func (s *Session) ack(id int64) {
	if id > s.aid {
		s.aid = id
	}
}

// isSubscribed reports whether the group is already in the session's
// subscription set.
func (s *Session) isSubscribed(groupID string) bool {
	_, ok := s.subscribed[groupID]
	return ok
}

func (s *Session) markSubscribed(groupIDs []string) {
	for _, id := range groupIDs {
		s.subscribed[id] = struct{}{}
	}
}

// SubscribedGroups returns a copy of the active subscription set.
func (s *Session) SubscribedGroups() []string {
	out := make([]string, 0, len(s.subscribed))
	for id := range s.subscribed {
		out = append(out, id)
	}
	return out
}
