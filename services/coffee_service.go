// services/coffee_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coffee-bot/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrTransportSend = errors.New("message send failed")

type CoffeeService struct {
	mu sync.Mutex

	pool       *Pool
	sender     Sender
	recorder   DeliveryRecorder
	from       string
	channel    string
	recipients []string
}

// Delivery summarizes one fan-out of a single message.
type Delivery struct {
	BatchID uuid.UUID `json:"batchId"`
	Message string    `json:"message"`
	Sent    []string  `json:"sent"`
	Failed  []string  `json:"failed"`
}

func NewCoffeeService(pool *Pool, sender Sender, recorder DeliveryRecorder, from, channel string, recipients []string) *CoffeeService {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if channel == "" {
		channel = ChannelSMS
	}
	return &CoffeeService{
		pool:       pool,
		sender:     sender,
		recorder:   recorder,
		from:       from,
		channel:    channel,
		recipients: recipients,
	}
}

// SendCoffeeMessage pops the next message and sends it to every recipient.
// The message is consumed before the first send, so failed deliveries are
// not retried on the next fire.
func (s *CoffeeService) SendCoffeeMessage(ctx context.Context) Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := Delivery{
		BatchID: uuid.New(),
		Message: s.pool.Next(),
	}

	for _, number := range s.recipients {
		sid, err := s.sender.Send(ctx, number, s.from, d.Message)

		entry := &models.DeliveryLog{
			BatchID:   d.BatchID,
			Recipient: number,
			Message:   d.Message,
			Status:    models.DeliveryStatusSent,
			Channel:   s.channel,
			SID:       sid,
			SentAt:    time.Now(),
		}

		if err != nil {
			err = fmt.Errorf("%w: %s: %v", ErrTransportSend, number, err)
			log.Error().Err(err).Str("to", number).Msg("failed to send message")
			entry.Status = models.DeliveryStatusFailed
			entry.ErrorMessage = err.Error()
			d.Failed = append(d.Failed, number)
		} else {
			if sid == "" {
				log.Info().Str("to", number).Msg("message sent, but no SID returned")
			} else {
				log.Info().Str("to", number).Str("sid", sid).Msg("message sent")
			}
			d.Sent = append(d.Sent, number)
		}
		deliveriesTotal.WithLabelValues(entry.Status).Inc()

		if err := s.recorder.Record(ctx, entry); err != nil {
			log.Error().Err(err).Str("to", number).Msg("failed to log delivery")
		}
	}

	log.Info().
		Str("batch", d.BatchID.String()).
		Int("sent", len(d.Sent)).
		Int("failed", len(d.Failed)).
		Msg("coffee message processed")
	return d
}
