package services

import (
	"context"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

// Sender delivers one message to one address and returns the provider's
// message id.
type Sender interface {
	Send(ctx context.Context, to, from, body string) (string, error)
}

type TwilioSender struct {
	client  *twilio.RestClient
	channel string
}

func NewTwilioSender(accountSid, authToken, channel string) *TwilioSender {
	return &TwilioSender{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSid,
			Password: authToken,
		}),
		channel: channel,
	}
}

// The twilio client has no context support; its own HTTP timeout applies.
func (s *TwilioSender) Send(ctx context.Context, to, from, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(address(s.channel, to))
	params.SetFrom(address(s.channel, from))
	params.SetBody(body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return "", err
	}
	if resp.Sid == nil {
		return "", nil
	}
	return *resp.Sid, nil
}

func address(channel, number string) string {
	if channel == ChannelWhatsApp {
		return "whatsapp:" + number
	}
	return number
}
