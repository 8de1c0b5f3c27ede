package audit

import (
	"context"

	"github.com/ahmadimabudeyah-ops/school-platform/pkg/log"
)

// Audit actions for the classroom service.
const (
	ActionAuth         = "classroom.auth"
	ActionAuthFailed   = "classroom.auth_failed"
	ActionJoinSession  = "classroom.join_session"
	ActionJoinDenied   = "classroom.join_denied"
	ActionLeaveSession = "classroom.leave_session"
	ActionSendMessage  = "classroom.send_message"
	ActionDisconnect   = "classroom.disconnect"
	ActionStartSession = "classroom.start_session"
	ActionEndSession   = "classroom.end_session"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Entry identifies who did what where. Empty fields are left out of the log.
type Entry struct {
	UserID    string
	Handle    string
	SessionID string
	Detail    string
}

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, e Entry, msg string) {
	l := log.Ctx(ctx)
	evt := l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action)

	for _, f := range [...]struct{ key, val string }{
		{log.FieldUserID, e.UserID},
		{log.FieldHandle, e.Handle},
		{log.FieldSessionID, e.SessionID},
		{FieldDetail, e.Detail},
	} {
		if f.val != "" {
			evt = evt.Str(f.key, f.val)
		}
	}
	evt.Msg(msg)
}
