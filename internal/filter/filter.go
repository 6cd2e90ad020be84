// Package filter applies per-recipient delivery policy (quiet hours,
// focus mode, hourly rate cap) to a priority-ordered candidate set.
package filter

import (
	"time"

	"notisync/internal/models"
)

// Apply filters candidates against the policy. Candidates must already
// be priority-ordered; the result preserves their order. Pure function.
//
// Quiet hours win over focus mode; inside either window only urgent
// items pass, and only when the window allows them. Outside both
// windows the hourly cap bounds the result.
func Apply(candidates []*models.QueuedNotification, policy models.DeliveryPolicy, now time.Time, sentLastHour int) []*models.QueuedNotification {
	if len(candidates) == 0 {
		return nil
	}

	if policy.QuietHours != nil && policy.QuietHours.Contains(now) {
		return urgentOnly(candidates, policy.QuietHours.AllowUrgent)
	}

	if policy.FocusMode != nil && policy.FocusMode.Contains(now) {
		return urgentOnly(candidates, policy.FocusMode.AllowUrgent)
	}

	remaining := policy.MaxPerHour - sentLastHour
	if remaining <= 0 {
		return nil
	}
	if remaining >= len(candidates) {
		return append([]*models.QueuedNotification(nil), candidates...)
	}
	return append([]*models.QueuedNotification(nil), candidates[:remaining]...)
}

func urgentOnly(candidates []*models.QueuedNotification, allowed bool) []*models.QueuedNotification {
	if !allowed {
		return nil
	}
	var out []*models.QueuedNotification
	for _, n := range candidates {
		if n.Priority == models.PriorityUrgent {
			out = append(out, n)
		}
	}
	return out
}
