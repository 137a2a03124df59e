// Package sms delivers verification codes to phones.
package sms

import (
	"context"
	"fmt"
	"sync"

	"github.com/proconfianza/server/internal/logging"
	"github.com/sirupsen/logrus"
	twilio "github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const messageTemplate = "Tu código de verificación de ProConfianza es: %s"

// Message renders the SMS body for a verification code.
func Message(code string) string {
	return fmt.Sprintf(messageTemplate, code)
}

// TwilioGateway sends verification codes through the Twilio Messages API.
type TwilioGateway struct {
	client *twilio.RestClient
	from   string
	log    logrus.FieldLogger
}

// NewTwilioGateway creates a gateway authenticated with the account SID and auth token.
func NewTwilioGateway(accountSID, authToken, fromPhone string, log logrus.FieldLogger) *TwilioGateway {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioGateway{client: client, from: fromPhone, log: log}
}

// Send delivers the code. The Twilio client is not context aware, so the
// call is abandoned (not cancelled) when ctx ends first.
func (g *TwilioGateway) Send(ctx context.Context, phone, code string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(phone)
	params.SetFrom(g.from)
	params.SetBody(Message(code))

	done := make(chan error, 1)
	go func() {
		_, err := g.client.Api.CreateMessage(params)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send sms via twilio: %w", err)
		}
		g.log.WithField("phone", logging.MaskPhone(phone)).Debug("verification SMS accepted by Twilio")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send sms via twilio: %w", ctx.Err())
	}
}

// LogGateway records dispatches in the log instead of sending them. The code
// itself is never written out.
type LogGateway struct {
	log logrus.FieldLogger
}

// NewLogGateway creates a LogGateway.
func NewLogGateway(log logrus.FieldLogger) *LogGateway {
	return &LogGateway{log: log}
}

// Send logs the masked destination.
func (g *LogGateway) Send(ctx context.Context, phone, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.log.WithFields(logrus.Fields{
		"phone":  logging.MaskPhone(phone),
		"digits": len(code),
	}).Info("verification SMS dispatched (log provider)")
	return nil
}

// Recorder keeps the last code sent to each phone in memory. Tests use it to
// play the part of the user reading the SMS.
type Recorder struct {
	mu    sync.Mutex
	last  map[string]string
	count map[string]int
	Err   error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{last: make(map[string]string), count: make(map[string]int)}
}

// Send records the code, then returns r.Err.
func (r *Recorder) Send(_ context.Context, phone, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[phone] = code
	r.count[phone]++
	return r.Err
}

// LastCode returns the most recent code sent to phone.
func (r *Recorder) LastCode(phone string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.last[phone]
	return code, ok
}

// Sent returns how many codes were sent to phone.
func (r *Recorder) Sent(phone string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count[phone]
}
