package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/greenroute/fleetlink/internal/dispatch"
	"github.com/greenroute/fleetlink/internal/metrics"
	"github.com/greenroute/fleetlink/internal/model"
	"github.com/greenroute/fleetlink/internal/outbox"
)

// Tables
const (
	TableDriverLocations = "driver_locations"
	TableBinFillReadings = "bin_fill_readings"
)

// Config holds batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Metrics are the writer's running totals.
type Metrics struct {
	LocationInserts int64
	FillInserts     int64
	Conflicts       int64
	Errors          int64
	Flushes         int64
	Dropped         int64
}

// Batcher is satisfied by *pgxpool.Pool.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type locationRow struct {
	DriverID   string
	Lat, Lng   float64
	Speed      float64
	Heading    float64
	RecordedAt time.Time
	ReceivedAt time.Time
}

type fillRow struct {
	BinID       string
	SensorID    string
	FillLevel   float64
	Temperature *float64
	Battery     *float64
	ReportedAt  time.Time
	ReceivedAt  time.Time
}

// record holds exactly one of location or fill.
type record struct {
	location *locationRow
	fill     *fillRow
}

func (r record) table() string {
	if r.location != nil {
		return TableDriverLocations
	}
	return TableBinFillReadings
}

// TelemetryWriter consumes telemetry frames and writes them in batches.
type TelemetryWriter struct {
	cfg    Config
	logger *slog.Logger

	input *outbox.Ring[record]
	db    Batcher
	now   func() time.Time

	// Batching
	batch       []record
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// NewTelemetryWriter creates a writer.
func NewTelemetryWriter(cfg Config, db Batcher, logger *slog.Logger) *TelemetryWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}

	w := &TelemetryWriter{
		cfg:    cfg,
		logger: logger.With("component", "telemetry_writer"),
		input:  outbox.NewRing[record](cfg.BufferSize),
		db:     db,
		now:    time.Now,
		batch:  make([]record, 0, cfg.BatchSize),
		ctx:    context.Background(),
	}
	w.input.OnDrop = func(r record) {
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Debug("telemetry buffer full, dropped oldest record", "table", r.table())
	}
	return w
}

// Attach subscribes the writer to telemetry frames.
func (w *TelemetryWriter) Attach(d *dispatch.Dispatcher) (cancel func()) {
	cancels := []func(){
		d.On(model.TypeDriverLocation, w.HandleEnvelope),
		d.On(model.TypeFindyLiveTracking, w.HandleEnvelope),
		d.On(model.TypeSensorUpdate, w.HandleEnvelope),
		d.On(model.TypeBinFillUpdate, w.HandleEnvelope),
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

// HandleEnvelope queues a telemetry frame for writing. Other types and
// incomplete payloads are ignored.
func (w *TelemetryWriter) HandleEnvelope(env model.Envelope) {
	r, ok := w.transform(env)
	if !ok {
		return
	}
	w.input.Push(r)
}

// Start begins consuming records and writing to the database.
func (w *TelemetryWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("telemetry writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains buffered records and performs a final flush bounded by ctx.
func (w *TelemetryWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping telemetry writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("telemetry writer stop timed out")
	}

	for _, r := range w.input.Drain(0) {
		w.batchMu.Lock()
		w.batch = append(w.batch, r)
		w.batchMu.Unlock()
	}
	w.flush(ctx)

	w.logger.Info("telemetry writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *TelemetryWriter) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *TelemetryWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		r, ok := w.input.Pop()
		if !ok {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}
		w.add(r)
	}
}

func (w *TelemetryWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends r to the batch, flushing when full.
func (w *TelemetryWriter) add(r record) {
	w.batchMu.Lock()
	w.batch = append(w.batch, r)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

func (w *TelemetryWriter) transform(env model.Envelope) (record, bool) {
	received := w.now().UTC()

	switch env.Type {
	case model.TypeDriverLocation, model.TypeFindyLiveTracking:
		var loc model.LocationUpdate
		if err := env.DecodeData(&loc); err != nil {
			return record{}, false
		}
		if loc.DriverID == "" {
			loc.DriverID = loc.DeviceID
		}
		if loc.DriverID == "" {
			return record{}, false
		}
		recorded := loc.RecordedAt
		if recorded.IsZero() {
			recorded = received
		}
		return record{location: &locationRow{
			DriverID:   loc.DriverID,
			Lat:        loc.Lat,
			Lng:        loc.Lng,
			Speed:      loc.Speed,
			Heading:    loc.Heading,
			RecordedAt: recorded,
			ReceivedAt: received,
		}}, true

	case model.TypeSensorUpdate, model.TypeBinFillUpdate:
		var fr model.FillReading
		if err := env.DecodeData(&fr); err != nil || fr.BinID == "" {
			return record{}, false
		}
		reported := fr.ReportedAt
		if reported.IsZero() {
			reported = received
		}
		return record{fill: &fillRow{
			BinID:       fr.BinID,
			SensorID:    fr.SensorID,
			FillLevel:   fr.FillLevel,
			Temperature: fr.Temperature,
			Battery:     fr.Battery,
			ReportedAt:  reported,
			ReceivedAt:  received,
		}}, true
	}
	return record{}, false
}

// flush writes the current batch to the database.
func (w *TelemetryWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	batch := w.batch
	w.batch = make([]record, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	inserted, conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		failed := make(map[string]bool, 2)
		for _, r := range batch {
			failed[r.table()] = true
		}
		for table := range failed {
			metrics.WriterErrors.WithLabelValues(table).Inc()
		}
		return
	}

	w.batchMu.Lock()
	w.metrics.LocationInserts += int64(inserted[TableDriverLocations])
	w.metrics.FillInserts += int64(inserted[TableBinFillReadings])
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	for table, n := range inserted {
		metrics.WriterInserts.WithLabelValues(table).Add(float64(n))
	}

	w.logger.Debug("flushed telemetry",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *TelemetryWriter) batchInsert(ctx context.Context, rows []record) (inserted map[string]int, conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		if l := r.location; l != nil {
			batch.Queue(`
				INSERT INTO driver_locations (driver_id, lat, lng, speed, heading, recorded_at, received_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (driver_id, recorded_at) DO NOTHING
			`, l.DriverID, l.Lat, l.Lng, l.Speed, l.Heading, l.RecordedAt, l.ReceivedAt)
			continue
		}
		f := r.fill
		batch.Queue(`
			INSERT INTO bin_fill_readings (bin_id, sensor_id, fill_level, temperature, battery, reported_at, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (bin_id, reported_at) DO NOTHING
		`, f.BinID, f.SensorID, f.FillLevel, f.Temperature, f.Battery, f.ReportedAt, f.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted = make(map[string]int, 2)
	for _, r := range rows {
		ct, err := results.Exec()
		if err != nil {
			return nil, 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
			continue
		}
		inserted[r.table()]++
	}

	return inserted, conflicts, nil
}
