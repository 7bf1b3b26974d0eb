package crowdauth

import (
	"context"

	"github.com/MrEthical07/crowdauth/internal/audit"
)

func (e *Engine) emitAudit(ctx context.Context, eventType, subject string, success bool, reason string) {
	if e.audit == nil {
		return
	}
	event := audit.NewEvent(e.now(), eventType, subject, success, reason)
	if ip := ClientIPFromContext(ctx); ip != "" {
		event.Metadata = map[string]string{"ip": ip}
	}
	if id := RequestIDFromContext(ctx); id != "" {
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		event.Metadata["request_id"] = id
	}
	e.audit.Emit(ctx, event)
}

// AuditDropped reports how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}
