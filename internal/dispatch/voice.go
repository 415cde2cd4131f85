package dispatch

import (
	"context"

	"github.com/google/uuid"

	"github.com/dialwave/dialwave-backend/internal/model"
)

// VoiceDispatcher initiates outbound calls. Success means the provider
// accepted the call for origination; whether it gets answered, and the
// conversation itself, are recorded separately by the call-log webhook.
type VoiceDispatcher struct {
	calls CallClient
}

func (d *VoiceDispatcher) Dispatch(ctx context.Context, campaign *model.Campaign, item *model.CampaignItem) Outcome {
	clientRef := uuid.New().String()

	callID, err := d.calls.Originate(ctx, OriginateRequest{
		From:      campaign.SenderID,
		To:        item.Phone,
		PromptRef: campaign.PromptRef,
		ClientRef: clientRef,
	})
	if err != nil {
		return classify(clientRef, err)
	}

	return Success(clientRef, callID)
}

var _ Dispatcher = (*VoiceDispatcher)(nil)
