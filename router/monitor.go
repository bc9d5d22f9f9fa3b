package router

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/riskmesh/riskmesh/transport"
)

// StartMonitor launches the heartbeat watchdog. Agents whose last
// heartbeat is older than HeartbeatInterval * MissedHeartbeatLimit are
// marked ERROR through the health sink and suppressed from routing until
// they re-register. The monitor also prunes stale correlation entries.
func (r *Router) StartMonitor(ctx context.Context) {
	r.wg.Add(1)
	go r.monitorLoop(ctx)
}

func (r *Router) monitorLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.checkHeartbeats()
			r.pruneOutstanding()
		}
	}
}

// checkHeartbeats suppresses agents past the missed-heartbeat budget.
// Suppression is one-way here: only a re-registration lifts it, so a
// half-dead agent cannot flap in and out of the routing table.
func (r *Router) checkHeartbeats() {
	deadline := time.Duration(r.cfg.MissedHeartbeatLimit) * r.cfg.HeartbeatInterval
	now := r.now()

	r.mu.Lock()
	var lapsed []string
	for id, reg := range r.agents {
		if reg.suppressed {
			continue
		}
		if now.Sub(reg.lastHeartbeat) > deadline {
			reg.suppressed = true
			lapsed = append(lapsed, id)
		}
	}
	r.mu.Unlock()

	for _, id := range lapsed {
		r.metrics.RecordHeartbeatMiss(id)
		if r.health != nil {
			r.health.MarkError(id)
		}
		r.logger.Warn("agent suppressed after missed heartbeats",
			zap.String("agent_id", id),
			zap.Duration("silence_budget", deadline),
		)
	}
}

// pruneOutstanding drops correlation entries whose RESPONSE never came.
func (r *Router) pruneOutstanding() {
	cutoff := r.now().Add(-outstandingTTL)

	r.mu.Lock()
	pruned := 0
	for id, pending := range r.outstanding {
		if pending.at.Before(cutoff) {
			delete(r.outstanding, id)
			pruned++
		}
	}
	r.mu.Unlock()

	if pruned > 0 {
		r.logger.Debug("pruned unanswered requests", zap.Int("count", pruned))
	}
}

// transportInbox tolerates the nil registration of an unknown recipient.
func transportInbox(reg *registration) transport.Inbox {
	if reg == nil {
		return nil
	}
	return reg.inbox
}
