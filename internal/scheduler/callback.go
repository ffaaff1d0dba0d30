package scheduler

import (
	"context"
)

// HandleCallback ingests a state change pushed by a bridge to
// CallbackPath. The body is the decoded request, JSON or form.
func (s *Scheduler) HandleCallback(ctx context.Context, body map[string]any) error {
	s.logger.Debug("received payload via callback", "payload", body)
	s.stamp(ctx, "bridgeApiLast")
	s.setFlag(ctx, "bridgeApiCallback", true)

	if err := s.reconciler.ApplyCallback(ctx, body); err != nil {
		return err
	}

	if s.opts.AdditionalWebCall {
		s.RefreshWebAfter(s.opts.AdditionalDelay)
	}
	return nil
}
