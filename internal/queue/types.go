package queue

import "time"

const (
	InboundStreamKey   = "stream:inbound"
	ConsumerGroupName  = "workers_group"
	OutboundListKey    = "queue:outbound"
	RetryZSetKey       = "retry:outbound"
	InboundDLQKey      = "dlq:inbound"
	OutboundDLQKey     = "dlq:outbound"
	MaxOutboundRetries = 5
)

// InboundMessage is a webhook-originated message waiting for the agent
// loop. Consumed exactly-once per attempt via the stream's consumer group.
type InboundMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// InboundEntry pairs a decoded InboundMessage with the raw stream entry id
// needed to ACK/DEL it.
type InboundEntry struct {
	StreamID string
	Message  InboundMessage
}

// OutboundMessage is a reply destined for the chat gateway.
type OutboundMessage struct {
	To       string `json:"to"`
	Text     string `json:"text"`
	CID      string `json:"cid"`
	Attempts int    `json:"attempts"`
}

// DeadLetterEntry wraps a payload that exhausted retries or failed
// unrecoverably, annotated with why and when.
type DeadLetterEntry struct {
	Payload  any       `json:"payload"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}
