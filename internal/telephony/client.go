// Package telephony wraps the outbound side of the telephony provider. The
// call core depends only on the Client interface; callbacks flow back through
// the HTTP transport as events.
package telephony

import "context"

// Client places outbound calls with a provider.
type Client interface {
	// PlaceCall asks the provider to dial phoneNumber. The provider fetches
	// call instructions from voiceURL and posts lifecycle notifications to
	// statusURL. Returns the provider-assigned call identifier.
	PlaceCall(ctx context.Context, phoneNumber, voiceURL, statusURL string) (string, error)
}
