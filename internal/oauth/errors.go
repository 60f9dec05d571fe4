package oauth

import (
	"fmt"
	"net/url"
)

// ErrorKind classifies why a login could not be completed
type ErrorKind string

const (
	// KindProviderError: the provider redirected back with an error parameter
	KindProviderError ErrorKind = "provider_error"
	// KindInvalidRequest: the callback lacks an authorization code
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindInvalidState: state missing, forged, expired or not bound to this browser
	KindInvalidState ErrorKind = "invalid_state"
	// KindNetwork: the token endpoint could not be reached in time
	KindNetwork ErrorKind = "network"
	// KindRejected: the token endpoint refused the code
	KindRejected ErrorKind = "rejected"
	// KindMalformed: the token response or access token is unusable
	KindMalformed ErrorKind = "malformed"
)

// ExchangeError is returned by every failed step of the login flow
type ExchangeError struct {
	Kind        ErrorKind
	Description string
	Err         error
}

func (e *ExchangeError) Error() string {
	msg := fmt.Sprintf("oauth exchange failed (%s)", e.Kind)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

func newExchangeError(kind ErrorKind, description string, err error) *ExchangeError {
	return &ExchangeError{Kind: kind, Description: description, Err: err}
}

// CallbackError returns a provider_error when the provider redirected back
// with an error parameter, and nil otherwise.
func CallbackError(q url.Values) *ExchangeError {
	code := q.Get("error")
	if code == "" {
		return nil
	}
	desc := code
	if d := q.Get("error_description"); d != "" {
		desc += ": " + d
	}
	return newExchangeError(KindProviderError, desc, nil)
}
