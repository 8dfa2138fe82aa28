// Package messaging talks to the WhatsApp messaging provider: outbound
// template sends, inbound webhook payloads, request signatures and TwiML
// replies.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"myndiary/pkg/phone"
)

const (
	// DefaultContentSID is the approved WhatsApp content template.
	DefaultContentSID = "HXb5b62575e6e4ff6129ad7c8efe1f983e"
	// DefaultFrom is the provider's WhatsApp sandbox number.
	DefaultFrom = "whatsapp:+14155238886"
)

// ErrNotConfigured is returned by constructors when credentials are missing.
var ErrNotConfigured = errors.New("messaging provider not configured")

// Receipt is the provider's answer to an accepted send.
type Receipt struct {
	SID    string
	Status string
}

// Sender delivers template messages to a WhatsApp number.
type Sender interface {
	SendTemplate(ctx context.Context, to string, variables map[string]string) (Receipt, error)
	From() string
}

// TwilioConfig holds provider credentials and sender identity.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	ContentSID string
}

// TwilioSender implements Sender with the Twilio Messages API.
type TwilioSender struct {
	client     *twilio.RestClient
	from       string
	contentSID string
}

// NewTwilioSender builds a sender; it does not contact the provider.
func NewTwilioSender(cfg TwilioConfig) (*TwilioSender, error) {
	sid := strings.TrimSpace(cfg.AccountSID)
	token := strings.TrimSpace(cfg.AuthToken)
	if sid == "" || token == "" {
		return nil, ErrNotConfigured
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = DefaultFrom
	}
	contentSID := strings.TrimSpace(cfg.ContentSID)
	if contentSID == "" {
		contentSID = DefaultContentSID
	}
	return &TwilioSender{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: sid,
			Password: token,
		}),
		from:       phone.WhatsAppAddress(from),
		contentSID: contentSID,
	}, nil
}

// From is the WhatsApp address messages are sent from.
func (s *TwilioSender) From() string {
	return s.from
}

// SendTemplate sends the content template to a canonical number.
// The Twilio client takes no context, so ctx is only checked before the call.
func (s *TwilioSender) SendTemplate(ctx context.Context, to string, variables map[string]string) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	vars, err := json.Marshal(variables)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode content variables: %w", err)
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(phone.WhatsAppAddress(to))
	params.SetFrom(s.from)
	params.SetContentSid(s.contentSID)
	params.SetContentVariables(string(vars))

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return Receipt{}, fmt.Errorf("create message: %w", err)
	}
	receipt := Receipt{}
	if resp.Sid != nil {
		receipt.SID = *resp.Sid
	}
	if resp.Status != nil {
		receipt.Status = *resp.Status
	}
	return receipt, nil
}

var _ Sender = (*TwilioSender)(nil)
