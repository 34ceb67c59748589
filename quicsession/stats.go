package quicsession

import "sync/atomic"

// Statistics is the monotonic counter block a Session maintains for
// its embedder and for quicmetrics.Collector to export. Every field is
// written only from the session's single-threaded event loop but read
// via atomic loads, since an embedder or exporter may poll it from
// another goroutine.
type Statistics struct {
	createdAt            int64
	handshakeStartAt      int64
	handshakeSendAt       int64
	handshakeContinueAt   int64
	handshakeCompletedAt  int64
	sessionSentAt         int64
	sessionReceivedAt     int64
	closingAt             int64
	bytesReceived         uint64
	bytesSent             uint64
	bidiStreamCount       uint64
	uniStreamCount        uint64
	streamsInCount        uint64
	streamsOutCount       uint64
	keyUpdateCount        uint64
}

func (s *Statistics) recordCreated(now int64) { atomic.StoreInt64(&s.createdAt, now) }

func (s *Statistics) recordHandshakeStart(now int64) {
	atomic.CompareAndSwapInt64(&s.handshakeStartAt, 0, now)
}

func (s *Statistics) recordHandshakeSend(now int64)     { atomic.StoreInt64(&s.handshakeSendAt, now) }
func (s *Statistics) recordHandshakeContinue(now int64) { atomic.StoreInt64(&s.handshakeContinueAt, now) }

func (s *Statistics) recordHandshakeCompleted(now int64) {
	atomic.CompareAndSwapInt64(&s.handshakeCompletedAt, 0, now)
}

func (s *Statistics) recordSent(now int64, n int) {
	atomic.StoreInt64(&s.sessionSentAt, now)
	atomic.AddUint64(&s.bytesSent, uint64(n))
}

func (s *Statistics) recordReceived(now int64, n int) {
	atomic.StoreInt64(&s.sessionReceivedAt, now)
	atomic.AddUint64(&s.bytesReceived, uint64(n))
}

func (s *Statistics) recordClosing(now int64) { atomic.CompareAndSwapInt64(&s.closingAt, 0, now) }

func (s *Statistics) recordStreamOpened(bidi bool, outbound bool) {
	if bidi {
		atomic.AddUint64(&s.bidiStreamCount, 1)
	} else {
		atomic.AddUint64(&s.uniStreamCount, 1)
	}
	if outbound {
		atomic.AddUint64(&s.streamsOutCount, 1)
	} else {
		atomic.AddUint64(&s.streamsInCount, 1)
	}
}

func (s *Statistics) recordKeyUpdate() { atomic.AddUint64(&s.keyUpdateCount, 1) }

// Snapshot is a point-in-time copy of Statistics safe to read freely,
// returned by Session.Stats.
type Snapshot struct {
	CreatedAt            int64
	HandshakeStartAt     int64
	HandshakeSendAt      int64
	HandshakeContinueAt  int64
	HandshakeCompletedAt int64
	SessionSentAt        int64
	SessionReceivedAt    int64
	ClosingAt            int64
	BytesReceived        uint64
	BytesSent            uint64
	BidiStreamCount      uint64
	UniStreamCount       uint64
	StreamsInCount       uint64
	StreamsOutCount      uint64
	KeyUpdateCount       uint64
}

// Snapshot returns a consistent-enough copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		CreatedAt:            atomic.LoadInt64(&s.createdAt),
		HandshakeStartAt:     atomic.LoadInt64(&s.handshakeStartAt),
		HandshakeSendAt:      atomic.LoadInt64(&s.handshakeSendAt),
		HandshakeContinueAt:  atomic.LoadInt64(&s.handshakeContinueAt),
		HandshakeCompletedAt: atomic.LoadInt64(&s.handshakeCompletedAt),
		SessionSentAt:        atomic.LoadInt64(&s.sessionSentAt),
		SessionReceivedAt:    atomic.LoadInt64(&s.sessionReceivedAt),
		ClosingAt:            atomic.LoadInt64(&s.closingAt),
		BytesReceived:        atomic.LoadUint64(&s.bytesReceived),
		BytesSent:            atomic.LoadUint64(&s.bytesSent),
		BidiStreamCount:      atomic.LoadUint64(&s.bidiStreamCount),
		UniStreamCount:       atomic.LoadUint64(&s.uniStreamCount),
		StreamsInCount:       atomic.LoadUint64(&s.streamsInCount),
		StreamsOutCount:      atomic.LoadUint64(&s.streamsOutCount),
		KeyUpdateCount:       atomic.LoadUint64(&s.keyUpdateCount),
	}
}
