package messaging

import (
	"testing"
	"time"

	"github.com/greenroute/fleetlink/internal/model"
)

func at(min int) time.Time {
	return time.Date(2026, 10, 17, 8, min, 0, 0, time.UTC)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name   string
		local  []model.ChatMessage
		server []model.ChatMessage
		want   []string // texts in order
	}{
		{
			name:   "union sorted by time",
			local:  []model.ChatMessage{{ID: "m2", Text: "b", Timestamp: at(2)}},
			server: []model.ChatMessage{{ID: "m1", Text: "a", Timestamp: at(1)}, {ID: "m3", Text: "c", Timestamp: at(3)}},
			want:   []string{"a", "b", "c"},
		},
		{
			name:   "same id later timestamp wins",
			local:  []model.ChatMessage{{ID: "m1", Text: "edited", Timestamp: at(5)}},
			server: []model.ChatMessage{{ID: "m1", Text: "original", Timestamp: at(1)}},
			want:   []string{"edited"},
		},
		{
			name:   "same id same timestamp server wins",
			local:  []model.ChatMessage{{ID: "m1", Text: "local", Timestamp: at(1)}},
			server: []model.ChatMessage{{ID: "m1", Text: "server", Timestamp: at(1)}},
			want:   []string{"server"},
		},
		{
			name:   "messages without id deduplicated by content",
			local:  []model.ChatMessage{{Sender: "driver", Text: "hi", Timestamp: at(1)}},
			server: []model.ChatMessage{{Sender: "driver", Text: "hi", Timestamp: at(1)}, {Sender: "admin", Text: "hi", Timestamp: at(1)}},
			want:   []string{"hi", "hi"},
		},
		{
			name:  "empty server",
			local: []model.ChatMessage{{ID: "m1", Text: "a", Timestamp: at(1)}},
			want:  []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.local, tt.server)
			if len(got) != len(tt.want) {
				t.Fatalf("Merge() = %+v, want %d messages", got, len(tt.want))
			}
			for i, text := range tt.want {
				if got[i].Text != text {
					t.Errorf("message %d text = %q, want %q", i, got[i].Text, text)
				}
			}
		})
	}
}

func TestMerge_KeepsLocalReadFlag(t *testing.T) {
	local := []model.ChatMessage{{ID: "m1", Text: "a", Timestamp: at(1), Read: true}}
	server := []model.ChatMessage{{ID: "m1", Text: "a", Timestamp: at(1)}}

	got := Merge(local, server)
	if !got[0].Read {
		t.Error("read flag should survive a server copy")
	}
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	local := []model.ChatMessage{{ID: "m1", Text: "a", Timestamp: at(1)}}
	got := Merge(local, nil)
	got[0].Text = "changed"
	if local[0].Text != "a" {
		t.Error("Merge must not share backing arrays with its inputs")
	}
}
