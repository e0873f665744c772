package dormie

// Receipt tracking: each outbound message advances sent → delivered → seen.
// Both flags are monotonic, false→true only; replays are no-ops and a
// receipt for a message not in the open log is dropped silently. A message
// that never receives a confirmation simply stays sent, which is not an
// error.

// HandleMessageDelivered applies a delivery confirmation. Only messages in
// the currently open conversation are tracked.
func (s *Synchronizer) HandleMessageDelivered(p MessageDeliveredPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentID != p.ConversationID {
		return
	}
	msg, ok := s.index[p.MessageID]
	if !ok || msg.Delivered {
		return
	}
	msg.Delivered = true
	at := p.DeliveredAt
	msg.DeliveredAt = &at
}

// HandleMessageSeen applies a single-message read confirmation. Seen
// implies delivered at the status level, so the flag is set even when the
// delivered event never arrived.
func (s *Synchronizer) HandleMessageSeen(p MessageRefPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ConversationID != "" && s.currentID != p.ConversationID {
		return
	}
	msg, ok := s.index[p.MessageID]
	if !ok || msg.IsRead {
		return
	}
	msg.IsRead = true
}

// HandleConversationSeen applies a bulk read confirmation: every message in
// the open log sent by self and addressed to the acknowledging user becomes
// read, skipping messages already read.
func (s *Synchronizer) HandleConversationSeen(p ConversationSeenPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentID != p.ConversationID {
		return
	}
	for _, msg := range s.messages {
		if msg.IsRead {
			continue
		}
		if msg.Sender.ID != s.self.ID || msg.Recipient.ID != p.SeenBy {
			continue
		}
		msg.IsRead = true
		at := p.SeenAt
		msg.ReadAt = &at
	}
}
