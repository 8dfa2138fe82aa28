package messaging

import (
	"net/url"
	"strconv"
	"strings"
)

// Inbound is the subset of a provider webhook the diary understands.
// Everything else is kept in Extra.
type Inbound struct {
	MessageSID        string
	From              string
	To                string
	Body              string
	NumMedia          int
	MediaURL0         string
	MediaContentType0 string
	Extra             map[string]string
}

var knownInboundFields = map[string]struct{}{
	"MessageSid": {}, "SmsMessageSid": {}, "From": {}, "To": {}, "Body": {},
	"NumMedia": {}, "MediaUrl0": {}, "MediaContentType0": {},
}

// ParseInbound reads a form-encoded webhook body. A missing or malformed
// NumMedia counts as zero.
func ParseInbound(form url.Values) Inbound {
	msg := Inbound{
		MessageSID:        strings.TrimSpace(form.Get("MessageSid")),
		From:              strings.TrimSpace(form.Get("From")),
		To:                strings.TrimSpace(form.Get("To")),
		Body:              form.Get("Body"),
		MediaURL0:         strings.TrimSpace(form.Get("MediaUrl0")),
		MediaContentType0: strings.TrimSpace(form.Get("MediaContentType0")),
	}
	if msg.MessageSID == "" {
		msg.MessageSID = strings.TrimSpace(form.Get("SmsMessageSid"))
	}
	if n, err := strconv.Atoi(strings.TrimSpace(form.Get("NumMedia"))); err == nil && n > 0 {
		msg.NumMedia = n
	}
	for key, values := range form {
		if _, known := knownInboundFields[key]; known || len(values) == 0 {
			continue
		}
		if msg.Extra == nil {
			msg.Extra = make(map[string]string)
		}
		msg.Extra[key] = values[0]
	}
	return msg
}

// HasMedia reports whether the first media attachment is usable.
func (m Inbound) HasMedia() bool {
	return m.NumMedia > 0 && m.MediaURL0 != ""
}
