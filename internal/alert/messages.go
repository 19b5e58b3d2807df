package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// Fixed SMS texts.
const (
	MsgWelcome = "Welcome to Prediction Market Alerts! You can text 'stop' to unsubscribe, " +
		"'mute' to silence alerts for today, 'resume' to reactivate alerts, or 'help' for more information."
	MsgNotSubscribed = "You are not subscribed to any alerts. Please visit our website to subscribe."
	MsgStopped       = "You have been unsubscribed. Text 'resume' to resubscribe."
	MsgMuted         = "Alerts muted for the rest of the day. Text 'resume' to unmute."
	MsgResumed       = "Your alerts have been resumed."
	MsgHelp          = "Available commands: stop (unsubscribe), mute (silence for today), " +
		"resume (reactivate alerts), help (show this message)"
	MsgUnknown = "Unrecognized command. Text 'help' for a list of available commands."
)

// ConfirmationMessage is the SMS carrying a subscription confirmation code.
func ConfirmationMessage(code string) string {
	return fmt.Sprintf("Your confirmation code is: %s. Please enter this code on the website to complete your subscription.", code)
}

// BigMoveMessage renders a big-move alert. move is the change since the
// last alert; the 1h and 24h lines appear only when history reaches back
// that far.
func BigMoveMessage(c domain.Contract, move float64, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Big move alert: %s\n", c.Title)
	fmt.Fprintf(&b, "Current price: %.2f\n", c.CurrentPrice)
	fmt.Fprintf(&b, "Change: %s\n", signed(move))
	if p, ok := c.PriceAt(now.Add(-time.Hour)); ok {
		fmt.Fprintf(&b, "1h change: %s\n", signed(c.CurrentPrice-p))
	}
	if p, ok := c.PriceAt(now.Add(-24 * time.Hour)); ok {
		fmt.Fprintf(&b, "24h change: %s\n", signed(c.CurrentPrice-p))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// DailyMessage renders one subscriber's daily update. Categories are listed
// in settings order, and only those the subscriber follows.
func DailyMessage(categories []string, sub domain.Subscriber, byCategory map[string][]domain.Contract, since time.Time) string {
	var b strings.Builder
	b.WriteString("Daily Update:\n")
	for _, cat := range categories {
		if !sub.WantsCategory(cat) {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", cat)
		for _, c := range byCategory[cat] {
			fmt.Fprintf(&b, "%s: %.2f (%s / 24h)\n", c.Title, c.CurrentPrice, signed(DayChange(c, since)))
		}
	}
	return b.String()
}

// DayChange is the current price minus the oldest price observed since
// since, or 0 without history in the window.
func DayChange(c domain.Contract, since time.Time) float64 {
	p, ok := c.OldestPriceSince(since)
	if !ok {
		return 0
	}
	return c.CurrentPrice - p
}

func signed(v float64) string {
	return fmt.Sprintf("%+.2f", v)
}
