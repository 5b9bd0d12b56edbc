package mq

import "context"

// Message 通用业务消息
type Message struct {
	ID       string            // broker message id (e.g. Redis Stream ID)
	Topic    string            // e.g. "vault.bridge.intents"
	Key      string            // partition key, e.g. deposit id
	Payload  []byte            // JSON body
	Metadata map[string]string
}

// Producer 生产者接口
type Producer interface {
	// Publish sends one message. key selects the partition so messages
	// for the same entity stay ordered; empty means any partition.
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}

// Consumer 消费者接口
type Consumer interface {
	// Subscribe starts consuming a topic. A handler error triggers
	// redelivery, so handlers must be idempotent.
	Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error

	Close() error
}
