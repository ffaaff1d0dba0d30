package scheduler

import (
	"context"
	"time"

	"github.com/nerrad567/nuki-gateway/internal/nuki"
)

func (s *Scheduler) runWeb() {
	defer s.wg.Done()

	s.PollWeb(s.reqCtx)

	ticker := time.NewTicker(s.opts.WebInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.PollWeb(s.reqCtx)
		}
	}
}

// RefreshWebAfter polls the Web API once after d, unless the scheduler
// stops first. It is a no-op while the Web API is inactive.
func (s *Scheduler) RefreshWebAfter(d time.Duration) {
	if !s.WebActive() {
		return
	}
	s.spawn(func() {
		select {
		case <-s.done:
		case <-s.after(d):
			s.PollWeb(s.reqCtx)
		}
	})
}

// PollWeb fetches smartlocks (with their logs and users) and account
// notifications from the Web API. Concurrent calls are serialised.
func (s *Scheduler) PollWeb(ctx context.Context) {
	if s.web == nil {
		return
	}
	s.webMu.Lock()
	defer s.webMu.Unlock()

	s.setFlag(ctx, "webApiSync", true)
	s.stamp(ctx, "webApiLast")

	locks, err := s.web.Smartlocks(ctx)
	if err != nil {
		s.logger.Warn("retrieving smartlocks from web api failed", "error", err)
	}
	for _, raw := range locks {
		if err := s.reconciler.ApplyWebSmartlock(ctx, raw); err != nil {
			s.logger.Warn("applying web smartlock failed", "error", err)
			continue
		}
		smartlockID, ok := smartlockIDOf(raw)
		if !ok {
			continue
		}
		hexID := nuki.HexFromSmartlockID(smartlockID)
		if s.opts.SyncLogs {
			s.pollLogs(ctx, smartlockID, hexID)
		}
		if s.opts.SyncUsers {
			s.pollUsers(ctx, smartlockID, hexID)
		}
	}

	notifications, err := s.web.Notifications(ctx)
	if err != nil {
		s.logger.Warn("retrieving notifications from web api failed", "error", err)
		return
	}
	if err := s.reconciler.ApplyNotifications(ctx, notifications); err != nil {
		s.logger.Warn("applying notifications failed", "error", err)
	}
}

func (s *Scheduler) pollLogs(ctx context.Context, smartlockID uint64, hexID string) {
	logs, err := s.web.SmartlockLogs(ctx, smartlockID, WebLogLimit)
	if err != nil {
		s.logger.Warn("retrieving logs from web api failed", "device", hexID, "error", err)
		return
	}
	entries := make([]any, len(logs))
	for i, l := range logs {
		entries[i] = l
	}
	if err := s.reconciler.ApplyLogs(ctx, hexID, entries); err != nil {
		s.logger.Debug("applying logs failed", "device", hexID, "error", err)
		return
	}
	if s.archiver != nil && len(logs) > 0 {
		if err := s.archiver.ArchiveLogs(ctx, hexID, logs); err != nil {
			s.logger.Warn("archiving logs failed", "device", hexID, "error", err)
		}
	}
}

func (s *Scheduler) pollUsers(ctx context.Context, smartlockID uint64, hexID string) {
	users, err := s.web.SmartlockAuth(ctx, smartlockID)
	if err != nil {
		s.logger.Warn("retrieving users from web api failed", "device", hexID, "error", err)
		return
	}
	if err := s.reconciler.ApplyUsers(ctx, hexID, users); err != nil {
		s.logger.Debug("applying users failed", "device", hexID, "error", err)
	}
}

func smartlockIDOf(raw map[string]any) (uint64, bool) {
	switch v := raw["smartlockId"].(type) {
	case float64:
		if v <= 0 {
			return 0, false
		}
		return uint64(v), true
	case int:
		return uint64(v), v > 0
	case int64:
		return uint64(v), v > 0
	case uint64:
		return v, v > 0
	}
	return 0, false
}
