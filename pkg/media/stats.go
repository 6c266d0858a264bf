package media

import (
	"github.com/pion/rtp"
)

// StreamStats is the snapshot reported to MediaHandler.HandleRTPStats
// and scraped into pkg/metrics' RTP gauges.
type StreamStats struct {
	PacketsReceived uint64
	PacketsLost     uint64
	JitterMs        float64
	PacketLossRate  float64
}

// statsTracker accumulates RFC 3550 Appendix A.8 jitter and a running
// loss estimate from the sequence of inbound RTP packets. Packetization
// itself is external; this only consumes headers handed to it by
// whatever owns the socket.
type statsTracker struct {
	clockRate int

	haveBaseline bool
	highestSeq   uint16
	baseSeq      uint16
	cycles       uint32
	received     uint64
	expectedPrev uint64
	receivedPrev uint64

	lastTransit int64
	jitter      float64
}

func newStatsTracker(clockRate int) *statsTracker {
	return &statsTracker{clockRate: clockRate}
}

// observe folds one received packet's header into the running stats,
// using arrivalTimestamp expressed in the stream's clock-rate units
// (RFC 3550's "arrival timestamp").
func (t *statsTracker) observe(hdr *rtp.Header, arrivalTimestamp uint32) {
	t.received++

	seq := hdr.SequenceNumber
	if !t.haveBaseline {
		t.haveBaseline = true
		t.baseSeq = seq
		t.highestSeq = seq
	} else if seq < t.highestSeq && t.highestSeq-seq > 0x8000 {
		t.cycles++
		t.highestSeq = seq
	} else if seq > t.highestSeq {
		t.highestSeq = seq
	}

	transit := int64(arrivalTimestamp) - int64(hdr.Timestamp)
	if t.received > 1 {
		d := float64(transit - t.lastTransit)
		if d < 0 {
			d = -d
		}
		t.jitter += (d - t.jitter) / 16.0
	}
	t.lastTransit = transit
}

// snapshot computes a StreamStats per RFC 3550 Appendix A.3, tracking
// the delta of expected vs. received since the previous call so
// PacketLossRate reflects the current reporting interval, not the
// session lifetime.
func (t *statsTracker) snapshot() StreamStats {
	expected := uint64(t.cycles)<<16 + uint64(t.highestSeq) - uint64(t.baseSeq) + 1

	expectedInterval := expected - t.expectedPrev
	receivedInterval := t.received - t.receivedPrev
	t.expectedPrev = expected
	t.receivedPrev = t.received

	var lost uint64
	if expected > t.received {
		lost = expected - t.received
	}

	var lossRate float64
	if expectedInterval > 0 && expectedInterval >= receivedInterval {
		lossRate = float64(expectedInterval-receivedInterval) / float64(expectedInterval)
	}

	jitterMs := t.jitter
	if t.clockRate > 0 {
		jitterMs = t.jitter * 1000 / float64(t.clockRate)
	}

	return StreamStats{
		PacketsReceived: t.received,
		PacketsLost:     lost,
		JitterMs:        jitterMs,
		PacketLossRate:  lossRate,
	}
}
