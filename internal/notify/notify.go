// Package notify turns ledger events into inbox messages.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/punchamoorthee/commonledger/internal/domain"
	"github.com/punchamoorthee/commonledger/internal/store"
)

// maxSubject is the longest subject kept before it is cut and suffixed.
const maxSubject = 75

// MessageWriter is the part of the store the dispatcher writes to.
type MessageWriter interface {
	CreateMessage(ctx context.Context, m *domain.Message) error
}

// Dispatcher writes one message per notice.
type Dispatcher struct {
	messages MessageWriter
	// systemPersonID signs fee notices; zero falls back to the fee recipient.
	systemPersonID int64
	log            *slog.Logger
}

func NewDispatcher(messages MessageWriter, systemPersonID int64, log *slog.Logger) *Dispatcher {
	return &Dispatcher{messages: messages, systemPersonID: systemPersonID, log: log}
}

var _ MessageWriter = (*store.Store)(nil)

// PaymentReceived tells the worker they were paid.
func (d *Dispatcher) PaymentReceived(ctx context.Context, n domain.PaymentNotice) error {
	x := n.Exchange
	subject := fmt.Sprintf("%s paid you %s %s for %s",
		n.Customer.DisplayName(), x.Amount.StringFixed(2), n.Group.Unit, n.MetadataName)
	content := fmt.Sprintf("%s sent %s %s to your %s account.",
		n.Customer.DisplayName(), x.Amount.StringFixed(2), n.Group.Unit, n.Group.Name)
	if x.Notes != "" {
		content += "\n\n" + x.Notes
	}
	return d.send(ctx, &domain.Message{
		SenderID:    x.CustomerID,
		RecipientID: x.WorkerID,
		Subject:     Truncate(subject),
		Content:     content,
		Talkable:    x.Metadata,
		ExchangeID:  x.ID,
	})
}

// FeeCharged tells the payer of a fee exchange what they were charged.
func (d *Dispatcher) FeeCharged(ctx context.Context, n domain.PaymentNotice) error {
	x := n.Exchange
	sender := d.systemPersonID
	if sender == 0 {
		sender = x.WorkerID
	}
	subject := fmt.Sprintf("You were charged a %s of %s %s", x.Notes, x.Amount.StringFixed(2), n.Group.Unit)
	content := fmt.Sprintf("A %s of %s %s was paid from your %s account to %s.",
		x.Notes, x.Amount.StringFixed(2), n.Group.Unit, n.Group.Name, n.Worker.DisplayName())
	return d.send(ctx, &domain.Message{
		SenderID:    sender,
		RecipientID: x.CustomerID,
		Subject:     Truncate(subject),
		Content:     content,
		Talkable:    x.Metadata,
		ExchangeID:  x.ID,
	})
}

// MembershipAccepted welcomes a new member.
func (d *Dispatcher) MembershipAccepted(ctx context.Context, n domain.MembershipNotice) error {
	sender := n.Group.OwnerID
	if sender == 0 {
		sender = d.systemPersonID
	}
	return d.send(ctx, &domain.Message{
		SenderID:    sender,
		RecipientID: n.Person.ID,
		Subject:     Truncate("Welcome to " + n.Group.Name),
		Content:     fmt.Sprintf("Your membership in %s has been accepted.", n.Group.Name),
	})
}

func (d *Dispatcher) send(ctx context.Context, m *domain.Message) error {
	if err := d.messages.CreateMessage(ctx, m); err != nil {
		return fmt.Errorf("message to person %d failed: %w", m.RecipientID, err)
	}
	d.log.DebugContext(ctx, "message sent", "recipient_id", m.RecipientID, "exchange_id", m.ExchangeID)
	return nil
}

// Truncate cuts a subject longer than 75 characters and appends "...".
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxSubject {
		return s
	}
	return string(r[:maxSubject]) + "..."
}
