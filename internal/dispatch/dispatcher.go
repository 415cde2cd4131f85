package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dialwave/dialwave-backend/internal/history"
	"github.com/dialwave/dialwave-backend/internal/model"
)

// Outcome classifies one dispatch attempt.
type Outcome struct {
	OK          bool
	ClientRef   string // idempotency key sent with the attempt
	ProviderRef string // provider call/message identifier on success
	Reason      string
	Retryable   bool // transient failure, leave the item pending
	Fatal       bool // campaign-level failure, abort the batch
}

func Success(clientRef, providerRef string) Outcome {
	return Outcome{OK: true, ClientRef: clientRef, ProviderRef: providerRef}
}

func Failure(clientRef, reason string, retryable bool) Outcome {
	return Outcome{ClientRef: clientRef, Reason: reason, Retryable: retryable}
}

func FatalFailure(clientRef, reason string) Outcome {
	return Outcome{ClientRef: clientRef, Reason: reason, Fatal: true}
}

// Dispatcher performs one outbound attempt for one item. Implementations do
// not retry; retry policy belongs to the worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, campaign *model.Campaign, item *model.CampaignItem) Outcome
}

// Deps carries the provider clients and the conversation-history sink shared
// by all channel dispatchers.
type Deps struct {
	Calls    CallClient
	Messages MessageClient
	History  history.Sink
}

// ForChannel selects the dispatcher for a campaign's channel. Called once
// per campaign, not per item.
func ForChannel(ch model.Channel, deps Deps) (Dispatcher, error) {
	switch ch {
	case model.ChannelVoice:
		return &VoiceDispatcher{calls: deps.Calls}, nil
	case model.ChannelSMS:
		return &SMSDispatcher{messages: deps.Messages, history: deps.History}, nil
	case model.ChannelWhatsApp:
		return &WhatsAppDispatcher{messages: deps.Messages, history: deps.History}, nil
	}
	return nil, fmt.Errorf("unsupported channel: %s", ch)
}

// classify maps a provider client error to a failure outcome. Anything that
// is not a structured provider response (timeouts, connection resets) is
// treated as transient.
func classify(clientRef string, err error) Outcome {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		if provErr.CredentialRejected() {
			return FatalFailure(clientRef, provErr.Error())
		}
		return Failure(clientRef, provErr.Error(), provErr.Transient())
	}
	return Failure(clientRef, err.Error(), true)
}
