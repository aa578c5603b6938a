package room

// HistoryEntry is one client-visible half of a message. A stored
// message yields at most two entries: the prompt half (inversion) and
// the response half. DateTime is the absolute instant in unix millis;
// the client formats it.
type HistoryEntry struct {
	UUID      int64    `json:"uuid"`
	DateTime  int64    `json:"dateTime"`
	Text      string   `json:"text"`
	Inversion bool     `json:"inversion"`
	Options   *Options `json:"conversationOptions,omitempty"`
}

// ClientView maps stored messages onto display entries. Soft-deleted
// halves are skipped; within one message the prompt half precedes the
// response half; message order is preserved.
func ClientView(msgs []Message) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(msgs)*2)
	for i := range msgs {
		m := &msgs[i]
		if !m.InversionDeleted() {
			out = append(out, HistoryEntry{
				UUID:      m.UUID,
				DateTime:  m.DateTime,
				Text:      m.Prompt,
				Inversion: true,
			})
		}
		if !m.ResponseDeleted() {
			opt := m.Opt
			out = append(out, HistoryEntry{
				UUID:     m.UUID,
				DateTime: m.DateTime,
				Text:     m.Response,
				Options:  &opt,
			})
		}
	}
	return out
}

// LatestLinkage returns the upstream thread linkage of the most recent
// turn whose response half is intact, or nil for a fresh thread. The
// provider keeps the transcript; we only hand it the pointer.
func LatestLinkage(msgs []Message) *Options {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := &msgs[i]
		if m.ResponseDeleted() || m.Opt.MessageID == "" {
			continue
		}
		return &Options{
			MessageID:       m.Opt.MessageID,
			ParentMessageID: m.Opt.ParentMessageID,
		}
	}
	return nil
}
