// Package broker executes upstream tools on behalf of users.
//
// Each invocation moves through a fixed sequence of states:
//
//	Validating -> RateChecking -> SessionResolving -> Invoking -> Done
//	                                                     |
//	                                                     +-> Retrying -> Done
//
// and ends in Failed from any state. Validation failures never consume rate
// budget or touch the upstream. An authorization failure during Invoking
// invalidates the user's session, provisions a fresh one and retries exactly
// once. Structured OAuth errors from the upstream are returned to the caller
// as OAuthRequired and never retried.
//
// Every error returned by Broker.Invoke is an *Error carrying a Kind and the
// request's correlation ID.
package broker
