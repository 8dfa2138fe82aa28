package messaging

import (
	"github.com/twilio/twilio-go/twiml"
)

// TwiMLContentType is the content type of webhook replies.
const TwiMLContentType = "text/xml; charset=utf-8"

// MessageReply renders a TwiML response that answers with body.
func MessageReply(body string) (string, error) {
	return twiml.Messages([]twiml.Element{&twiml.MessagingMessage{Body: body}})
}
