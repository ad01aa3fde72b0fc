package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(TypeChatMessage, ChatMessage{DriverID: "d-1", Sender: "admin", Text: "hi"})
	if err != nil {
		t.Fatalf("NewEnvelope() error: %v", err)
	}

	if env.Type != TypeChatMessage {
		t.Errorf("Type = %q, want %q", env.Type, TypeChatMessage)
	}
	if _, err := uuid.Parse(env.ID); err != nil {
		t.Errorf("ID = %q is not a UUID: %v", env.ID, err)
	}
	if env.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}

	var msg ChatMessage
	if err := env.DecodeData(&msg); err != nil {
		t.Fatalf("DecodeData() error: %v", err)
	}
	if msg.DriverID != "d-1" || msg.Text != "hi" {
		t.Errorf("decoded = %+v", msg)
	}
}

func TestNewEnvelope_NilPayload(t *testing.T) {
	env, err := NewEnvelope(TypePing, nil)
	if err != nil {
		t.Fatalf("NewEnvelope() error: %v", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if wire["type"] != "ping" {
		t.Errorf("type = %v, want ping", wire["type"])
	}
	if _, ok := wire["data"]; ok {
		t.Error("data should be omitted for nil payload")
	}
}

func TestEnvelope_DecodeData_Empty(t *testing.T) {
	tests := []struct {
		name string
		data json.RawMessage
	}{
		{"missing", nil},
		{"null", json.RawMessage(`null`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Envelope{Type: TypeBinUpdate, Data: tt.data}
			var bin Bin
			if err := env.DecodeData(&bin); !errors.Is(err, ErrEmptyData) {
				t.Errorf("DecodeData() error = %v, want ErrEmptyData", err)
			}
		})
	}
}

func TestSnapshot_NilVersusEmpty(t *testing.T) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(`{"bins":[],"routes":[{"id":"r-1","status":"completed"}]}`), &snap); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	if snap.Bins == nil {
		t.Error("Bins should be empty, not nil, when present in the frame")
	}
	if snap.Drivers != nil {
		t.Error("Drivers should be nil when absent from the frame")
	}
	if len(snap.Routes) != 1 || snap.Routes[0].Status != RouteStatusCompleted {
		t.Errorf("Routes = %+v", snap.Routes)
	}
}
