package telephony

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioClient places calls through the Twilio REST API.
type TwilioClient struct {
	rest       *twilio.RestClient
	fromNumber string
	logger     *slog.Logger
}

// NewTwilioClient creates a Twilio-backed client. fromNumber is the
// provider-owned caller ID used for all outbound calls.
func NewTwilioClient(accountSID, authToken, fromNumber string, logger *slog.Logger) (*TwilioClient, error) {
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("twilio credentials not configured")
	}
	if fromNumber == "" {
		return nil, fmt.Errorf("twilio from-number not configured")
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &TwilioClient{
		rest:       rest,
		fromNumber: fromNumber,
		logger:     logger.With("subsystem", "twilio"),
	}, nil
}

// PlaceCall creates an outbound call resource. Twilio fetches TwiML from
// voiceURL when the call connects and posts status events to statusURL.
func (c *TwilioClient) PlaceCall(ctx context.Context, phoneNumber, voiceURL, statusURL string) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(phoneNumber)
	params.SetFrom(c.fromNumber)
	params.SetUrl(voiceURL)
	if statusURL != "" {
		params.SetStatusCallback(statusURL)
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
		params.SetStatusCallbackMethod("POST")
	}

	// twilio-go has no context-aware variant of CreateCall.
	_ = ctx
	resp, err := c.rest.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("creating call: %w", err)
	}
	if resp.Sid == nil || *resp.Sid == "" {
		return "", fmt.Errorf("provider returned no call sid")
	}

	c.logger.Info("outbound call placed",
		"to", phoneNumber,
		"provider_call_id", *resp.Sid,
	)

	return *resp.Sid, nil
}

// Ensure TwilioClient satisfies Client.
var _ Client = (*TwilioClient)(nil)
