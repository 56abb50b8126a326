package ingestor

import (
	"os"
	"time"
)

func osHostname() (string, error) {
	return os.Hostname()
}

// Status is a point-in-time snapshot of the consumer's operational state,
// grounded on the teacher's dto.ServiceStatusResponse — exposed via the
// supplemented GET /api/v1/ingestor/status endpoint (SPEC_FULL.md).
type Status struct {
	State         string     `json:"state"`
	QueueID       string     `json:"queue_id"`
	Endpoint      string     `json:"endpoint"`
	LastPoll      *time.Time `json:"last_poll,omitempty"`
	LastKillmail  *int64     `json:"last_killmail_id,omitempty"`
	CurrentTTW    int        `json:"current_ttw"`
	NullStreak    int        `json:"null_streak"`
	Uptime        string     `json:"uptime"`
	TotalPolls    int64      `json:"total_polls"`
	NullResponses int64      `json:"null_responses"`
	KillmailsFound int64     `json:"killmails_found"`
	HTTPErrors    int64      `json:"http_errors"`
	ParseErrors   int64      `json:"parse_errors"`
	ProcessErrors int64      `json:"process_errors"`
	RateLimitHits int64      `json:"rate_limit_hits"`
}

// Status returns a snapshot of the consumer's current operational state.
func (c *Consumer) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statusLocked()
}

// statusLocked must be called with c.mu already held (read or write) by the
// caller.
func (c *Consumer) statusLocked() Status {
	var lastPoll *time.Time
	if !c.lastPoll.IsZero() {
		t := c.lastPoll
		lastPoll = &t
	}
	var lastKillmail *int64
	if id := c.metrics.LastKillmailID.Load(); id > 0 {
		lastKillmail = &id
	}
	var uptime time.Duration
	if !c.startTime.IsZero() {
		uptime = time.Since(c.startTime)
	}

	return Status{
		State:          State(c.state.Load()).String(),
		QueueID:        c.cfg.QueueID,
		Endpoint:       c.cfg.Endpoint,
		LastPoll:       lastPoll,
		LastKillmail:   lastKillmail,
		CurrentTTW:     c.ttw,
		NullStreak:     c.nullStreak,
		Uptime:         uptime.String(),
		TotalPolls:     c.metrics.TotalPolls.Load(),
		NullResponses:  c.metrics.NullResponses.Load(),
		KillmailsFound: c.metrics.KillmailsFound.Load(),
		HTTPErrors:     c.metrics.HTTPErrors.Load(),
		ParseErrors:    c.metrics.ParseErrors.Load(),
		ProcessErrors:  c.metrics.ProcessErrors.Load(),
		RateLimitHits:  c.metrics.RateLimitHits.Load(),
	}
}
