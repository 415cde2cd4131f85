// internal/errors/errors.go
package appErrors

import "fmt"

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrInvalidTransition is returned when a conditional status change is
// rejected because the campaign was not in an eligible state.
type ErrInvalidTransition struct {
	CampaignID int
	From       string
	To         string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("campaign %d cannot move from %s to %s", e.CampaignID, e.From, e.To)
}

func NewInvalidTransition(id int, from, to string) error {
	return &ErrInvalidTransition{CampaignID: id, From: from, To: to}
}

// ErrInvalidRecipient flags a phone number rejected during campaign creation.
type ErrInvalidRecipient struct {
	Phone  string
	Reason string
}

func (e *ErrInvalidRecipient) Error() string {
	return fmt.Sprintf("invalid recipient %q: %s", e.Phone, e.Reason)
}

func NewInvalidRecipient(phone, reason string) error {
	return &ErrInvalidRecipient{Phone: phone, Reason: reason}
}
