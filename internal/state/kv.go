package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/greenroute/fleetlink/internal/model"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("state key not found")

// Keys
const (
	KeyDriverMessages      = "driverMessages"
	KeyUnreadMessageCounts = "unreadMessageCounts"
	KeyCurrentDriver       = "currentDriver"
	keyDriverRoutesPrefix  = "driverRoutes_"
)

// DriverRoutesKey returns the key holding a driver's routes.
func DriverRoutesKey(driverID string) string {
	return keyDriverRoutesPrefix + driverID
}

// KV is a key/value store of JSON documents.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process KV.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.data))
}

// GetJSON decodes the value at key into v. A missing key returns
// ErrNotFound and leaves v untouched.
func GetJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutJSON stores v at key.
func PutJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Put(ctx, key, data)
}

// CurrentDriver returns the persisted current driver, "" if none.
func CurrentDriver(ctx context.Context, kv KV) (string, error) {
	var id string
	if err := GetJSON(ctx, kv, KeyCurrentDriver, &id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// SetCurrentDriver persists the current driver. An empty id clears it.
func SetCurrentDriver(ctx context.Context, kv KV, driverID string) error {
	if driverID == "" {
		return kv.Delete(ctx, KeyCurrentDriver)
	}
	return PutJSON(ctx, kv, KeyCurrentDriver, driverID)
}

// DriverRoutes returns the persisted routes for a driver.
func DriverRoutes(ctx context.Context, kv KV, driverID string) ([]model.Route, error) {
	var routes []model.Route
	if err := GetJSON(ctx, kv, DriverRoutesKey(driverID), &routes); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return routes, nil
}

// SetDriverRoutes persists the routes for a driver.
func SetDriverRoutes(ctx context.Context, kv KV, driverID string, routes []model.Route) error {
	return PutJSON(ctx, kv, DriverRoutesKey(driverID), routes)
}
