package metrics

// DeliveryObserver records the outcome of delivery attempts.
type DeliveryObserver interface {
	RecordDelivered()
	RecordRetry()
	RecordPermanentFailure()
	RecordAbandoned()
	ObserveSendLatency(seconds float64)
}

// IdempotencyObserver records how publish requests were resolved.
type IdempotencyObserver interface {
	RecordExecuted()
	RecordReplayed()
	RecordInFlightRejected()
}

// QueueObserver receives periodic queue gauges.
type QueueObserver interface {
	SetQueueDepth(depth int64)
	SetQueueOverdue(overdue int64)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) RecordDelivered() {}
func (Nop) RecordRetry() {}
func (Nop) RecordPermanentFailure() {}
func (Nop) RecordAbandoned() {}
func (Nop) ObserveSendLatency(float64) {}
func (Nop) RecordExecuted() {}
func (Nop) RecordReplayed() {}
func (Nop) RecordInFlightRejected() {}
func (Nop) SetQueueDepth(int64) {}
func (Nop) SetQueueOverdue(int64) {}
