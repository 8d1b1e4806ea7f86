package procure

import (
	"context"
	"log"
	"time"
)

// DefaultPollInterval is how often the match poller refetches a
// request while its three-way match is unresolved.
const DefaultPollInterval = 2 * time.Second

// MatchPoller watches a request after a receipt upload and reports
// each state until the match resolves. Polling stops when the match
// status becomes MATCHED, when the context is cancelled, or when
// MaxAttempts is exhausted.
type MatchPoller struct {
	Client   *Client
	Interval time.Duration

	// MaxAttempts bounds the number of polls. Zero means poll until
	// the match resolves or the context ends.
	MaxAttempts int
}

// Poll refetches the request every interval and sends each observed
// state to onUpdate. It returns the final request seen, or the context
// error if cancelled first. A failed fetch is logged and retried on
// the next tick; only terminal match states or exhaustion stop the
// loop. A DISCREPANCY result keeps polling, since resubmitting a
// corrected receipt restarts the match.
func (p *MatchPoller) Poll(ctx context.Context, requestID string, onUpdate func(*Request)) (*Request, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *Request
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}

		attempts++
		r, err := p.Client.GetRequest(ctx, requestID)
		if err != nil {
			log.Printf("match poll for request %s failed: %v", requestID, err)
		} else {
			last = r
			if onUpdate != nil {
				onUpdate(r)
			}
			if r.ThreeWayMatchStatus == MatchMatched {
				return r, nil
			}
		}

		if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
			return last, nil
		}
	}
}
