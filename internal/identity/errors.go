package identity

import "errors"

var (
	// ErrMalformedEvent marks a payload that can never be processed. The
	// webhook is still acknowledged since redelivery cannot help.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrNoIdentity marks a well-formed event that carries no email.
	ErrNoIdentity = errors.New("event has no identity")
	// ErrStorage wraps identity store failures; callers surface it so the
	// sender redelivers.
	ErrStorage = errors.New("identity storage failure")
	// ErrCredential marks a failure to issue the portal credential for a new
	// person. Nothing is written when it occurs.
	ErrCredential = errors.New("portal credential failure")
	// ErrExternalAPI wraps CRM failures during back-sync. Never fatal.
	ErrExternalAPI = errors.New("external api failure")
)
