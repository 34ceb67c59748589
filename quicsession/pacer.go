package quicsession

import (
	"time"

	"golang.org/x/time/rate"
)

// pacer gates the packet-write loop (spec.md §4.4 "while ... the pacer
// permits") so a session with a large congestion window doesn't dump
// its entire send budget into one batch. It wraps rate.Limiter rather
// than a bespoke token bucket, refilled from the congestion window and
// smoothed RTT the way ngtcp2's internal pacer would be, and defaults
// to effectively unthrottled until a real sample arrives.
type pacer struct {
	limiter *rate.Limiter
}

func newPacer() *pacer {
	return &pacer{limiter: rate.NewLimiter(rate.Inf, 1<<20)}
}

// Allow reports whether n more bytes may be written onto the wire
// right now without exceeding the current pacing rate.
func (p *pacer) Allow(n int) bool {
	return p.limiter.AllowN(time.Now(), n)
}

// Update retunes the pacer from a fresh congestion-window/RTT sample,
// as reported by the Transport after each ACK: rate = cwnd / smoothedRTT.
func (p *pacer) Update(congestionWindow int, smoothedRTT time.Duration) {
	if congestionWindow <= 0 || smoothedRTT <= 0 {
		return
	}
	bytesPerSecond := float64(congestionWindow) / smoothedRTT.Seconds()
	p.limiter.SetLimit(rate.Limit(bytesPerSecond))
	p.limiter.SetBurst(congestionWindow)
}
