package messagedb

import "time"

// DefaultGroupWindow is how close two messages from the same sender have to
// be to render as one bubble group.
const DefaultGroupWindow = 5 * time.Minute

type MessageGroup struct {
	Sender   string       `json:"sender"`
	Messages []*DBMessage `json:"messages"`
}

// GroupMessages groups consecutive messages from the same sender that are
// within window of the previous one. Input must be chronological, as the
// repo returns it.
func GroupMessages(messages []*DBMessage, window time.Duration) []*MessageGroup {
	var groups []*MessageGroup
	var current *MessageGroup

	for _, m := range messages {
		if current != nil && current.Sender == m.Sender {
			last := current.Messages[len(current.Messages)-1]
			if m.SentAt.Sub(last.SentAt) <= window {
				current.Messages = append(current.Messages, m)
				continue
			}
		}
		current = &MessageGroup{Sender: m.Sender, Messages: []*DBMessage{m}}
		groups = append(groups, current)
	}

	return groups
}
