package model

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Inbound and outbound message types.
const (
	TypePing                  = "ping"
	TypePong                  = "pong"
	TypeConnected             = "connected"
	TypeClientInfo            = "client_info"
	TypeDriverUpdate          = "driver_update"
	TypeBinUpdate             = "bin_update"
	TypeBinAdded              = "bin_added"
	TypeRouteUpdate           = "route_update"
	TypeCollectionUpdate      = "collection_update"
	TypeRouteCompletion       = "route_completion"
	TypeChatMessage           = "chat_message"
	TypeTypingIndicator       = "typing_indicator"
	TypeSensorUpdate          = "sensor_update"
	TypeBinFillUpdate         = "bin_fill_update"
	TypeDriverLocation        = "driver_location"
	TypeFindyLiveTracking     = "findy_livetracking_update"
	TypeSensorTrackingStarted = "sensor_tracking_started"
	TypeSensorTrackingStopped = "sensor_tracking_stopped"
	TypeDataUpdate            = "dataUpdate"

	// TypeConnectionState is emitted locally on every transport change.
	TypeConnectionState = "connection_state"
)

// Route statuses.
const (
	RouteStatusPending    = "pending"
	RouteStatusInProgress = "in-progress"
	RouteStatusCompleted  = "completed"
)

// ErrEmptyData is returned when decoding an envelope without a payload.
var ErrEmptyData = errors.New("envelope has no data")

// Envelope is the JSON frame exchanged with the server. Every frame carries a type.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
	Data      json.RawMessage `json:"data,omitempty"`

	// Raw holds the complete frame as received. Not serialized.
	Raw json.RawMessage `json:"-"`
}

// NewEnvelope builds an outbound envelope with a fresh ID and timestamp.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	env := Envelope{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Data = data
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return ErrEmptyData
	}
	return json.Unmarshal(e.Data, v)
}

// Bin is a waste bin, optionally fitted with a fill-level sensor.
type Bin struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	Address       string     `json:"address,omitempty"`
	Lat           float64    `json:"lat"`
	Lng           float64    `json:"lng"`
	FillLevel     float64    `json:"fillLevel"`
	Status        string     `json:"status,omitempty"`
	SensorID      string     `json:"sensorId,omitempty"`
	Tracking      bool       `json:"tracking,omitempty"`
	LastCollected *time.Time `json:"lastCollected,omitempty"`
	Version       int64      `json:"version,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt,omitzero"`
}

// Route is an ordered list of bins assigned to a driver.
type Route struct {
	ID          string     `json:"id"`
	DriverID    string     `json:"driverId,omitempty"`
	Name        string     `json:"name,omitempty"`
	Status      string     `json:"status"`
	BinIDs      []string   `json:"binIds,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Version     int64      `json:"version,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt,omitzero"`
}

// Driver is a collection vehicle driver.
type Driver struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status,omitempty"`
	VehicleID string    `json:"vehicleId,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Speed     float64   `json:"speed,omitempty"`
	Heading   float64   `json:"heading,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Collection records a bin being emptied.
type Collection struct {
	ID          string    `json:"id,omitempty"`
	BinID       string    `json:"binId"`
	DriverID    string    `json:"driverId,omitempty"`
	RouteID     string    `json:"routeId,omitempty"`
	FillBefore  float64   `json:"fillBefore,omitempty"`
	CollectedAt time.Time `json:"collectedAt"`
}

// RouteCompletion is the payload of a route_completion frame.
type RouteCompletion struct {
	RouteID     string    `json:"routeId"`
	DriverID    string    `json:"driverId,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// FillReading is a sensor_update / bin_fill_update payload.
type FillReading struct {
	BinID       string    `json:"binId"`
	SensorID    string    `json:"sensorId,omitempty"`
	FillLevel   float64   `json:"fillLevel"`
	Temperature *float64  `json:"temperature,omitempty"`
	Battery     *float64  `json:"battery,omitempty"`
	ReportedAt  time.Time `json:"reportedAt,omitzero"`
}

// LocationUpdate is a driver_location / findy_livetracking_update payload.
// Findy devices report a DeviceID that the server maps to a driver.
type LocationUpdate struct {
	DriverID   string    `json:"driverId"`
	DeviceID   string    `json:"deviceId,omitempty"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Speed      float64   `json:"speed,omitempty"`
	Heading    float64   `json:"heading,omitempty"`
	RecordedAt time.Time `json:"recordedAt,omitzero"`
}

// SensorTracking is the payload of sensor_tracking_started/stopped frames.
type SensorTracking struct {
	BinID    string `json:"binId"`
	SensorID string `json:"sensorId,omitempty"`
}

// ChatMessage is a message between the dispatcher (admin) and a driver.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	DriverID  string    `json:"driverId"`
	Sender    string    `json:"sender"` // "admin" or "driver"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read,omitempty"`
}

// TypingIndicator is the payload of a typing_indicator frame.
type TypingIndicator struct {
	DriverID string `json:"driverId"`
	Sender   string `json:"sender"`
	Typing   bool   `json:"typing"`
}

// ClientInfo is the payload of connected / client_info frames.
type ClientInfo struct {
	ClientID string `json:"clientId"`
	Role     string `json:"role,omitempty"`
}

// Snapshot is a full or partial server-pushed replacement of cached entities.
// Nil slices mean "not included"; empty slices mean "now empty".
type Snapshot struct {
	Bins        []Bin        `json:"bins,omitempty"`
	Routes      []Route      `json:"routes,omitempty"`
	Drivers     []Driver     `json:"drivers,omitempty"`
	Collections []Collection `json:"collections,omitempty"`
}
