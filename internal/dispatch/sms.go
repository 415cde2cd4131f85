package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dialwave/dialwave-backend/internal/history"
	"github.com/dialwave/dialwave-backend/internal/model"
)

// SMSDispatcher sends one SMS per item using the campaign's message template.
type SMSDispatcher struct {
	messages MessageClient
	history  history.Sink
}

func (d *SMSDispatcher) Dispatch(ctx context.Context, campaign *model.Campaign, item *model.CampaignItem) Outcome {
	clientRef := uuid.New().String()

	msgID, err := d.messages.Send(ctx, SendRequest{
		From:      campaign.SenderID,
		To:        item.Phone,
		Body:      campaign.MessageTemplate,
		ClientRef: clientRef,
	})
	if err != nil {
		return classify(clientRef, err)
	}

	appendHistory(ctx, d.history, campaign, item, campaign.MessageTemplate, msgID)

	return Success(clientRef, msgID)
}

// appendHistory records the sent message in the conversation pipeline.
// Best-effort: a sink failure is logged and never alters the outcome.
func appendHistory(ctx context.Context, sink history.Sink, campaign *model.Campaign, item *model.CampaignItem, body, providerRef string) {
	if sink == nil {
		return
	}
	err := sink.Append(ctx, history.Entry{
		CampaignID:  campaign.ID,
		ItemID:      item.ID,
		Channel:     string(campaign.Channel),
		Direction:   "outbound",
		Body:        body,
		ProviderRef: providerRef,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		log.Println("⚠️ failed to append conversation history for item", item.ID, ":", err)
	}
}

var _ Dispatcher = (*SMSDispatcher)(nil)
