// Package audit reports keeper logins and session invalidations as OTLP
// audit events.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/pkg/session"
)

const initiator = "session keeper"

type Auditor struct {
	logger   *otlpaudit.AuditLogger
	keeperID string
}

// New returns an Auditor. A nil logger turns every call into a debug log.
func New(logger *otlpaudit.AuditLogger, keeperID string) *Auditor {
	return &Auditor{
		logger:   logger,
		keeperID: keeperID,
	}
}

// Attach reports every invalidation of m until the returned func is called.
func (a *Auditor) Attach(m *session.Manager) (detach func()) {
	return m.OnInvalidated(a.Invalidated)
}

func (a *Auditor) LoginSucceeded(ctx context.Context, subjectID string) {
	if a.logger == nil {
		slogctx.Debug(ctx, "Audit logger is nil; skipping event")
		return
	}

	metadata, err := otlpaudit.NewEventMetadata(initiator, a.keeperID, uuid.NewString())
	if err != nil {
		slogctx.Error(ctx, "Creating audit metadata", "error", err)
		return
	}

	event, err := otlpaudit.NewUserLoginSuccessEvent(metadata, subjectID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.MFATYPE_NONE, otlpaudit.USERTYPE_BUSINESS, a.keeperID)
	if err != nil {
		slogctx.Error(ctx, "Creating audit log", "error", err)
		return
	}

	if err := a.logger.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login success", "error", err)
		return
	}
	slogctx.Debug(ctx, "Sent audit log for user login success")
}

func (a *Auditor) LoginFailed(ctx context.Context, reason string) {
	a.failure(ctx, a.keeperID, reason)
}

// Invalidated reports the end of a session. Logouts and rejected refresh
// tokens are both recorded as login failures of the subject.
func (a *Auditor) Invalidated(ctx context.Context, inv session.Invalidation) {
	reason := string(inv.Reason)
	if inv.Err != nil {
		reason = fmt.Sprintf("%s: %v", inv.Reason, inv.Err)
	}

	a.failure(ctx, inv.SubjectID, reason)
}

func (a *Auditor) failure(ctx context.Context, objectID, reason string) {
	if a.logger == nil {
		slogctx.Debug(ctx, "Audit logger is nil; skipping event")
		return
	}

	metadata, err := otlpaudit.NewEventMetadata(initiator, a.keeperID, uuid.NewString())
	if err != nil {
		slogctx.Error(ctx, "Creating audit metadata", "error", err)
		return
	}

	event, err := otlpaudit.NewUserLoginFailureEvent(metadata, objectID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.FailReason(reason), a.keeperID)
	if err != nil {
		slogctx.Error(ctx, "Creating audit log", "error", err)
		return
	}

	if err := a.logger.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login failure", "error", err)
		return
	}
	slogctx.Debug(ctx, "Sent audit log for user login failure")
}
