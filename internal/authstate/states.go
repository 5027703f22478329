package authstate

import "strings"

// State is a hierarchical machine state, written as a dotted path. Exactly
// one leaf state is active at a time.
type State string

const (
	// loading runs once at startup and never again.
	Loading                    State = "loading"
	LoadingVerifyingVersion    State = "loading.verifyingLastUsedVersion"
	LoadingInitialSetup        State = "loading.performingInitialSetup"
	LoadingVerifyingPending    State = "loading.verifyingPendingSession"
	LoadingResumingPending     State = "loading.resumingPendingSession"
	LoadingVerifyingSession    State = "loading.verifyingSession"
	LoadingVerifyingNetwork    State = "loading.verifyingNetworkConnection"
	LoadingRefreshingSession   State = "loading.refreshingSession"
	LoadingInitializingStorage State = "loading.initializingStorage"
	LoadingVerifyingPin        State = "loading.verifyingPin"

	// validatingPin waits for the PIN-entry UI outcome.
	ValidatingPin State = "validatingPin"

	// loggedIn is the authenticated resting state; its refreshingSession
	// branch handles background refresh with retry and backoff.
	LoggedIn                           State = "loggedIn"
	LoggedInIdle                       State = "loggedIn.idle"
	LoggedInRefreshing                 State = "loggedIn.refreshingSession"
	LoggedInRefreshingVerifyingNetwork State = "loggedIn.refreshingSession.verifyingNetworkConnection"
	LoggedInRefreshingRefreshing       State = "loggedIn.refreshingSession.refreshing"
	LoggedInRefreshingPendingRetry     State = "loggedIn.refreshingSession.pendingRetry"
	LoggedInRefreshingWaitingNetwork   State = "loggedIn.refreshingSession.waitingForNetworkConnection"

	// loggedOut is the unauthenticated resting state and hosts the
	// interactive login/register pipeline.
	LoggedOut                    State = "loggedOut"
	LoggedOutIdle                State = "loggedOut.idle"
	LoggedOutAuthenticating      State = "loggedOut.authenticating"
	LoggedOutInitializingStorage State = "loggedOut.initializingStorage"
	LoggedOutFetchingProfile     State = "loggedOut.fetchingProfile"
)

// Matches reports whether s is prefix itself or nested under it, mirroring
// hierarchical state matching: LoggedInRefreshingRefreshing matches
// LoggedIn and LoggedInRefreshing.
func (s State) Matches(prefix State) bool {
	return s == prefix || strings.HasPrefix(string(s), string(prefix)+".")
}
