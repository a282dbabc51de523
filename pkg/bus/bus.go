// Package bus carries chat messages between channel adapters and the agent.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultBufferSize = 100

// InboundMessage is a chat message from a channel to the agent.
type InboundMessage struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	TraceID   string            `json:"trace_id"`
	Content   string            `json:"content"`
	Media     []string          `json:"media,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// OutboundMessage is a reply from the agent to a channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	TraceID string `json:"trace_id,omitempty"`
	Content string `json:"content"`
	// Media holds URLs or file paths sent after the text.
	Media []string `json:"media,omitempty"`
	// ReplyTo quotes a message id when the channel supports it.
	ReplyTo string `json:"reply_to,omitempty"`
}

type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	done     chan struct{}
	once     sync.Once
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultBufferSize),
		outbound: make(chan OutboundMessage, defaultBufferSize),
		done:     make(chan struct{}),
	}
}

// PublishInbound queues msg for the agent. It blocks while the buffer is full
// and returns false once the bus is closed.
func (b *MessageBus) PublishInbound(msg InboundMessage) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.TraceID == "" {
		msg.TraceID = uuid.NewString()
	}
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.inbound <- msg:
		return true
	case <-b.done:
		return false
	}
}

// ConsumeInbound blocks until a message arrives, ctx ends or the bus closes.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	case <-b.done:
		return InboundMessage{}, false
	}
}

func (b *MessageBus) PublishOutbound(msg OutboundMessage) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.outbound <- msg:
		return true
	case <-b.done:
		return false
	}
}

func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	case <-b.done:
		return OutboundMessage{}, false
	}
}

// Close releases every blocked publisher and consumer. Queued messages are dropped.
func (b *MessageBus) Close() {
	b.once.Do(func() { close(b.done) })
}

func (b *MessageBus) InboundSize() int  { return len(b.inbound) }
func (b *MessageBus) OutboundSize() int { return len(b.outbound) }
