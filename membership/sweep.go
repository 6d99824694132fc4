package membership

import "time"

// Sweep applies the timeout policy to pending requests as of now. Expired
// requests are rejected when auto-reject is enabled and escalated once
// otherwise. Requests inside their reminder window are reported once.
// Calling Sweep again with the same now changes nothing.
func (r *Registry) Sweep(now time.Time) SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res SweepResult
	now = now.UTC()

	addrs := make([]string, len(r.pendingOrder))
	copy(addrs, r.pendingOrder)

	for _, addr := range addrs {
		req := r.pending[addr]
		switch {
		case !now.Before(req.Deadline):
			if r.opts.AutoReject {
				req.Status = StatusRejected
				req.ResolvedAt = now
				req.ResolvedBy = AutoRejecter
				req.Reason = ReasonTimeout
				r.removePendingLocked(addr)
				r.rejected = append(r.rejected, req)
				r.rejectedIdx[addr] = req
				res.Rejected = append(res.Rejected, req.clone())
				r.metrics.RecordMembershipDecision("auto_rejected")
				r.logger.Info().
					Str("address", addr).
					Time("deadline", req.Deadline).
					Msg("Membership request auto-rejected")
			} else if !req.Escalated {
				req.Escalated = true
				res.Escalated = append(res.Escalated, req.clone())
				r.logger.Warn().
					Str("address", addr).
					Time("deadline", req.Deadline).
					Msg("Membership request expired without auto-reject")
			}
		case r.reminderDueLocked(req, now):
			req.ReminderSent = true
			res.Reminders = append(res.Reminders, req.clone())
		}
	}

	if len(res.Rejected) > 0 {
		r.metrics.UpdateMembership(len(r.members), len(r.pending))
	}
	return res
}

// ReminderDue reports whether the pending request at address has entered
// its reminder window without a reminder having been sent.
func (r *Registry) ReminderDue(address string, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.pending[address]
	if !ok {
		return false
	}
	return r.reminderDueLocked(req, now)
}

func (r *Registry) reminderDueLocked(req *Request, now time.Time) bool {
	if req.ReminderSent || r.opts.Reminder <= 0 {
		return false
	}
	if !now.Before(req.Deadline) {
		return false
	}
	return !now.Before(req.Deadline.Add(-r.opts.Reminder))
}
