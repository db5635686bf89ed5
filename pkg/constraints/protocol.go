package constraints

// Subscription status values.
const (
	StatusPendingConfirmation = "pending_confirmation"
	StatusConfirmed           = "confirmed"
)

// Headers understood by the admin API.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderTraceID        = "X-Trace-ID"
	HeaderRetryAfter     = "Retry-After"
)

// SubscriptionTokenLength is the length of a confirmation token.
const SubscriptionTokenLength = 25
