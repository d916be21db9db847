// Package notify delivers run reports to subscribers.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"bcpea_notifier/internal/model"
)

// Notifier delivers the filter group results of one subscriber.
type Notifier interface {
	Notify(ctx context.Context, user string, groups []model.GroupReport) error
}

// Stats summarizes a dispatch.
type Stats struct {
	Users  int
	Sent   int
	Failed int
}

// Dispatch hands every subscriber's results to every notifier, in subscriber order.
// A failed delivery is logged and does not stop the others.
func Dispatch(ctx context.Context, report *model.RunReport, log *slog.Logger, notifiers ...Notifier) (Stats, error) {
	var st Stats
	if report == nil || report.Len() == 0 {
		log.Warn("no listings to send")
		return st, nil
	}

	users := report.Users()
	st.Users = len(users)
	log.Info("dispatching notifications", "users", len(users), "channels", len(notifiers))

	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		groups := report.Groups(user)
		for _, n := range notifiers {
			if err := n.Notify(ctx, user, groups); err != nil {
				st.Failed++
				log.Error("notify user", "user", user, "error", err)
				continue
			}
			st.Sent++
		}
	}

	log.Info("notifications dispatched", "sent", st.Sent, "failed", st.Failed)
	return st, nil
}

// deliveryPolicy is the retry policy shared by the delivery providers.
type deliveryPolicy struct {
	attempts uint
	delay    time.Duration
}

func defaultPolicy() deliveryPolicy {
	return deliveryPolicy{attempts: 3, delay: time.Second}
}

func (p deliveryPolicy) do(ctx context.Context, log *slog.Logger, what string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Attempts(p.attempts),
		retry.Delay(p.delay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(p.delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Info("retrying "+what+" after error", "attempt", n, "error", err)
		}),
	)
}

// sanitizeHeader removes CR, LF and other control characters so a value cannot
// inject extra mail headers.
func sanitizeHeader(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 32 && r != 127 {
			out = append(out, r)
		}
	}
	return string(out)
}
