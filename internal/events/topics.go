package events

// Topic constants for domain events emitted by the payment flows.
const (
	TopicPaymentApproved = "payment.approved"
	TopicPaymentPending  = "payment.pending"
	TopicPaymentRejected = "payment.rejected"
	TopicPaymentRefunded = "payment.refunded"
	TopicPaymentVoided   = "payment.voided"
)

// DefaultTopics returns the canonical list of emitted topics.
func DefaultTopics() []string {
	return []string{
		TopicPaymentApproved,
		TopicPaymentPending,
		TopicPaymentRejected,
		TopicPaymentRefunded,
		TopicPaymentVoided,
	}
}
