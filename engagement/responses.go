package engagement

import "fmt"

// responseFor picks a reaction line scaled to the magnitude of the event.
// Empty string means no response for this event.
func responseFor(ev *Event) string {
	switch ev.Type {
	case EventSubscription:
		if ev.Months >= 12 {
			return fmt.Sprintf("%d months?! Absolute legend, thank you for the resub!", ev.Months)
		}
		if ev.Months > 1 {
			return fmt.Sprintf("Welcome back for month %d, thanks for the resub!", ev.Months)
		}
		return "Welcome to the community, thanks for subscribing!"
	case EventGiftSub:
		if ev.GiftCount >= 10 {
			return fmt.Sprintf("%d gifted subs?! Incredibly generous, thank you so much!", ev.GiftCount)
		}
		if ev.GiftCount > 1 {
			return fmt.Sprintf("Thank you for gifting %d subs!", ev.GiftCount)
		}
		return "Thank you for the gifted sub!"
	case EventRaid:
		if ev.RaidViewers >= 100 {
			return fmt.Sprintf("A %d-strong raid?! Welcome everyone, make yourselves at home!", ev.RaidViewers)
		}
		if ev.RaidViewers >= 10 {
			return fmt.Sprintf("Welcome raiders, all %d of you!", ev.RaidViewers)
		}
		return "Welcome raiders!"
	case EventCheer:
		if ev.Bits >= 1000 {
			return fmt.Sprintf("%d bits?! You're amazing, thank you!", ev.Bits)
		}
		if ev.Bits >= 100 {
			return fmt.Sprintf("Thanks for the %d bits!", ev.Bits)
		}
		return "Thanks for the bits!"
	case EventFollow:
		return "Thanks for the follow!"
	case EventHypeMoment:
		return "Chat is going wild right now!"
	}
	return ""
}
