package idp

import "context"

// ConsentResultType categorizes the outcome of the user-facing consent
// screen.
type ConsentResultType string

const (
	ConsentSuccess ConsentResultType = "success"
	ConsentCancel  ConsentResultType = "cancel"
	ConsentDismiss ConsentResultType = "dismiss"
	ConsentOther   ConsentResultType = "other"
)

// ConsentResult is the terminal outcome of one consent-screen launch. Code
// is set only for ConsentSuccess.
type ConsentResult struct {
	Type ConsentResultType
	Code string
}

// ConsentPrompt opens the user-facing consent screen for an authorization
// request and waits for its outcome. The browser launch is the one step of
// the flow bounded only by user action.
type ConsentPrompt interface {
	Prompt(ctx context.Context, req *AuthorizationRequest) (*ConsentResult, error)
}

// PromptFunc adapts a function to the ConsentPrompt interface.
type PromptFunc func(ctx context.Context, req *AuthorizationRequest) (*ConsentResult, error)

func (f PromptFunc) Prompt(ctx context.Context, req *AuthorizationRequest) (*ConsentResult, error) {
	return f(ctx, req)
}
