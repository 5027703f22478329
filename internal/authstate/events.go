package authstate

import (
	"github.com/jaktapp/fieldauth/internal/netcheck"
	"github.com/jaktapp/fieldauth/internal/securestore"
	"github.com/jaktapp/fieldauth/internal/userstore"
)

// eventType names every event the machine accepts. External events arrive
// from the UI or API layer; the rest are terminal reports from invoked
// tasks.
type eventType string

const (
	// External events.
	evLogin      eventType = "LOGIN"
	evRegister   eventType = "REGISTER"
	evLogout     eventType = "LOGOUT"
	evRefresh    eventType = "REFRESH_SESSION"
	evPinValid   eventType = "PIN_VALID"
	evPinInvalid eventType = "PIN_INVALID"

	// Invoked-task results.
	evVersionMissing  eventType = "version.missing"
	evVersionOK       eventType = "version.ok"
	evSetupDone       eventType = "setup.done"
	evPendingFound    eventType = "pending.found"
	evPendingNone     eventType = "pending.none"
	evResumeOK        eventType = "resume.ok"
	evResumeFailed    eventType = "resume.failed"
	evSessionFound    eventType = "session.found"
	evSessionNone     eventType = "session.none"
	evNetworkChecked  eventType = "network.checked"
	evNetworkRestored eventType = "network.restored"
	evRefreshOK       eventType = "refresh.ok"
	evRefreshExpired  eventType = "refresh.expired"
	evRefreshErr      eventType = "refresh.error"
	evStorageOK       eventType = "storage.ok"
	evStorageFailed   eventType = "storage.failed"
	evPinFound        eventType = "pin.found"
	evPinNone         eventType = "pin.none"
	evRefreshDue      eventType = "timer.refreshDue"
	evRetryDue        eventType = "timer.retryDue"
	evAuthOK          eventType = "authenticate.ok"
	evAuthCancelled   eventType = "authenticate.cancelled"
	evAuthFailed      eventType = "authenticate.failed"
	evProfileOK       eventType = "profile.ok"
	evProfileFailed   eventType = "profile.failed"
	evNoop            eventType = "noop"
)

// event is the single message type flowing through the machine's loop.
// epoch is zero for external events; invoked-task results carry the epoch of
// the state that spawned them so results of superseded states can be
// detected and dropped.
type event struct {
	typ   eventType
	epoch uint64

	session *securestore.Session
	pending *securestore.PendingSession
	storage *userstore.Handle
	status  netcheck.Status
	err     error
}
