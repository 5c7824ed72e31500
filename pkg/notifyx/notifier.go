// Package notifyx binds the generic pkg/notifx email client to the one
// domain notification this proxy sends: telling a credential's owner that
// their pooled OAuth credential was auto-disabled (spec.md §4.4).
package notifyx

import (
	"context"
	"fmt"

	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/notifx"
)

// Notifier implements credentialsrv.OwnerNotifier on top of a
// notifx.Client, so SES vs. console delivery stays a provider swap at
// wiring time rather than a code change here.
type Notifier struct {
	client *notifx.Client
	from   string
}

func NewNotifier(client *notifx.Client, fromAddress string) *Notifier {
	return &Notifier{client: client, from: fromAddress}
}

// NotifyCredentialDisabled emails the owner of an auto-disabled credential.
// Delivery failures are logged, never propagated: notification is
// best-effort and must never block the request that triggered it.
func (n *Notifier) NotifyCredentialDisabled(ctx context.Context, ownerEmail, displayName, reason string) {
	if ownerEmail == "" {
		return
	}

	msg := notifx.EmailMessage{
		From:     n.from,
		To:       []string{ownerEmail},
		Subject:  fmt.Sprintf("Your credential %q was disabled", displayName),
		TextBody: fmt.Sprintf("Your credential %q was automatically disabled after an authentication failure: %s\n\nIf it was donated to the public pool, its donation bonus has been removed from your account.", displayName, reason),
	}

	if err := n.client.SendEmail(ctx, msg); err != nil {
		logx.WithError(err).WithField("owner_email", ownerEmail).Warn("failed to notify credential owner")
	}
}
