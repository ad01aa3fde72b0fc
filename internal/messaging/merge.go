package messaging

import (
	"slices"
	"strconv"

	"github.com/greenroute/fleetlink/internal/model"
)

// Merge combines two message lists for one driver. Messages with the same
// ID are deduplicated keeping the one with the later timestamp (server wins
// ties); messages without an ID are deduplicated by sender, timestamp and
// text. The result is sorted by timestamp.
func Merge(local, server []model.ChatMessage) []model.ChatMessage {
	byID := make(map[string]int)
	byContent := make(map[string]int)
	out := make([]model.ChatMessage, 0, len(local)+len(server))

	add := func(msg model.ChatMessage, preferNew bool) {
		if msg.ID != "" {
			if i, ok := byID[msg.ID]; ok {
				prev := out[i]
				if msg.Timestamp.After(prev.Timestamp) || (preferNew && msg.Timestamp.Equal(prev.Timestamp)) {
					// Read state is local knowledge.
					msg.Read = msg.Read || prev.Read
					out[i] = msg
				}
				return
			}
			byID[msg.ID] = len(out)
			out = append(out, msg)
			return
		}

		key := contentKey(msg)
		if _, ok := byContent[key]; ok {
			return
		}
		byContent[key] = len(out)
		out = append(out, msg)
	}

	for _, m := range local {
		add(m, false)
	}
	for _, m := range server {
		add(m, true)
	}

	slices.SortStableFunc(out, func(a, b model.ChatMessage) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}

func contentKey(m model.ChatMessage) string {
	return m.Sender + "\x00" + strconv.FormatInt(m.Timestamp.UnixMilli(), 10) + "\x00" + m.Text
}
