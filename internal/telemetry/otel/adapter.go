package otel

import (
	"context"
	"sort"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"phone-auth/backend/internal/audit"
)

const auditScope = "phoneauth.audit"

// recordEmitter is the part of otellog.Logger the emitter uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// AuditEmitter mirrors audit events as OTel log records so they reach the collector next to traces.
type AuditEmitter struct {
	logger recordEmitter
	nowF   func() time.Time
}

// NewAuditEmitter returns an audit.AuditLogger backed by provider. A nil provider yields audit.Nop.
func NewAuditEmitter(provider *sdklog.LoggerProvider) audit.AuditLogger {
	if provider == nil {
		return audit.Nop{}
	}
	return newAuditEmitter(provider.Logger(auditScope))
}

func newAuditEmitter(l recordEmitter) *AuditEmitter {
	return &AuditEmitter{logger: l, nowF: time.Now}
}

// LogEvent emits one record: body is the action, identifiers and metadata are attributes.
func (e *AuditEmitter) LogEvent(ctx context.Context, ev audit.Event) {
	if ev.Action == "" {
		return
	}
	rec := otellog.Record{}
	rec.SetTimestamp(e.nowF().UTC())
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue(ev.Action))
	rec.AddAttributes(otellog.String("action", ev.Action))
	if ev.Resource != "" {
		rec.AddAttributes(otellog.String("resource", ev.Resource))
	}
	if ev.OrgID != "" {
		rec.AddAttributes(otellog.String("org_id", ev.OrgID))
	}
	if ev.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", ev.UserID))
	}
	if ev.IP != "" {
		rec.AddAttributes(otellog.String("client_ip", ev.IP))
	}
	keys := make([]string, 0, len(ev.Metadata))
	for k := range ev.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec.AddAttributes(otellog.String("meta."+k, ev.Metadata[k]))
	}
	e.logger.Emit(ctx, rec)
}
