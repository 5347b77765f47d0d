package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phone-auth/backend/internal/audit/domain"
	auditrepo "phone-auth/backend/internal/audit/repository"
)

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// Event is one audit record. IP falls back to the logger's extractor when empty.
type Event struct {
	OrgID    string
	UserID   string
	Action   string
	Resource string
	IP       string
	Metadata map[string]string
}

// AuditLogger records security events. LogEvent is best-effort: failures are logged and do not
// affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, ev Event)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         *zap.Logger
	nowF        func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown". log may be nil.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: log, nowF: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, ev Event) {
	if l == nil || l.repo == nil {
		return
	}
	ip := ev.IP
	if ip == "" && l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	if ip == "" {
		ip = "unknown"
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		OrgID:     ev.OrgID,
		UserID:    ev.UserID,
		Action:    ev.Action,
		Resource:  ev.Resource,
		IP:        ip,
		Metadata:  ev.Metadata,
		CreatedAt: l.nowF().UTC(),
	}
	// Detached so a canceled request still leaves its trail.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := l.repo.Create(writeCtx, entry); err != nil {
		l.log.Warn("audit write failed",
			zap.String("action", ev.Action),
			zap.String("resource", ev.Resource),
			zap.Error(err))
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) LogEvent(context.Context, Event) {}

// Multi fans an event out to every non-nil logger in order.
type Multi []AuditLogger

func (m Multi) LogEvent(ctx context.Context, ev Event) {
	for _, l := range m {
		if l != nil {
			l.LogEvent(ctx, ev)
		}
	}
}
