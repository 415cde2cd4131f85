package dispatch

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/dialwave/dialwave-backend/internal/history"
	"github.com/dialwave/dialwave-backend/internal/model"
)

const whatsappPrefix = "whatsapp:"

// WhatsAppDispatcher sends template messages over the WhatsApp channel.
// Addresses are channel-prefixed before submission to the provider.
type WhatsAppDispatcher struct {
	messages MessageClient
	history  history.Sink
}

func (d *WhatsAppDispatcher) Dispatch(ctx context.Context, campaign *model.Campaign, item *model.CampaignItem) Outcome {
	clientRef := uuid.New().String()

	msgID, err := d.messages.Send(ctx, SendRequest{
		From:      prefixWhatsApp(campaign.SenderID),
		To:        prefixWhatsApp(item.Phone),
		Body:      campaign.MessageTemplate,
		ClientRef: clientRef,
	})
	if err != nil {
		return classify(clientRef, err)
	}

	appendHistory(ctx, d.history, campaign, item, campaign.MessageTemplate, msgID)

	return Success(clientRef, msgID)
}

func prefixWhatsApp(addr string) string {
	if strings.HasPrefix(addr, whatsappPrefix) {
		return addr
	}
	return whatsappPrefix + addr
}

var _ Dispatcher = (*WhatsAppDispatcher)(nil)
