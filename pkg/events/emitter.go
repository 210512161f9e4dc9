// Package events publishes the service's domain events. Emission is
// best-effort: failures are logged and never surfaced to HTTP callers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avezor/funnelboard/pkg/kafka"
)

// Event types emitted by the service.
const (
	TypeReportComputed     = "report.computed"
	TypeSourcesSynced      = "sources.synced"
	TypeLowConversionAlert = "alert.low_conversion"
	TypeHighJunkAlert      = "alert.high_junk"
)

// Envelope wraps every published event.
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// ReportComputedPayload describes a finished report run.
type ReportComputedPayload struct {
	Report           string `json:"report"`
	TotalLeads       int    `json:"totalLeads"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// SourcesSyncedPayload describes a dictionary sync run.
type SourcesSyncedPayload struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// SourceAlertPayload flags a source crossing a funnel threshold.
type SourceAlertPayload struct {
	SourceID   string `json:"sourceId"`
	SourceName string `json:"sourceName"`
	Metric     string `json:"metric"`
	Value      string `json:"value"`
	TotalLeads int    `json:"totalLeads"`
}

// Emitter publishes events through the Kafka producer. A nil producer
// disables emission entirely, so callers never need to guard.
type Emitter struct {
	producer *kafka.Producer
	logger   *zap.Logger
}

// NewEmitter creates an emitter. Pass a nil producer to run with
// events disabled.
func NewEmitter(producer *kafka.Producer, logger *zap.Logger) *Emitter {
	return &Emitter{producer: producer, logger: logger}
}

// Enabled reports whether events actually leave the process.
func (e *Emitter) Enabled() bool {
	return e != nil && e.producer != nil
}

func (e *Emitter) emit(ctx context.Context, eventType, key string, payload any) {
	if !e.Enabled() {
		return
	}

	env := Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		e.logger.Error("failed to marshal event", zap.String("type", eventType), zap.Error(err))
		return
	}

	if err := e.producer.Publish(ctx, key, data, map[string]string{"event_type": eventType}); err != nil {
		e.logger.Warn("event dropped", zap.String("type", eventType), zap.Error(err))
	}
}

// EmitReportComputed announces a finished report run.
func (e *Emitter) EmitReportComputed(ctx context.Context, report string, totalLeads int, processingTimeMs int64) {
	e.emit(ctx, TypeReportComputed, report, ReportComputedPayload{
		Report:           report,
		TotalLeads:       totalLeads,
		ProcessingTimeMs: processingTimeMs,
	})
}

// EmitSourcesSynced announces a dictionary sync run.
func (e *Emitter) EmitSourcesSynced(ctx context.Context, created, updated, total int) {
	e.emit(ctx, TypeSourcesSynced, TypeSourcesSynced, SourcesSyncedPayload{
		Created: created,
		Updated: updated,
		Total:   total,
	})
}

// EmitLowConversionAlert flags a source whose meetings-held conversion
// dropped under the configured threshold.
func (e *Emitter) EmitLowConversionAlert(ctx context.Context, sourceID, sourceName, conversion string, totalLeads int) {
	e.emit(ctx, TypeLowConversionAlert, sourceID, SourceAlertPayload{
		SourceID:   sourceID,
		SourceName: sourceName,
		Metric:     "meetingsHeldConversion",
		Value:      conversion,
		TotalLeads: totalLeads,
	})
}

// EmitHighJunkAlert flags a source whose junk share crossed the
// configured threshold.
func (e *Emitter) EmitHighJunkAlert(ctx context.Context, sourceID, sourceName, junkPercent string, totalLeads int) {
	e.emit(ctx, TypeHighJunkAlert, sourceID, SourceAlertPayload{
		SourceID:   sourceID,
		SourceName: sourceName,
		Metric:     "junkPercent",
		Value:      junkPercent,
		TotalLeads: totalLeads,
	})
}
