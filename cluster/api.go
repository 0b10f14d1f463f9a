package cluster

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/mqy/pairchat/model"
)

//go:generate mockgen -destination=mock/mock_api.go -package=mock github.com/mqy/pairchat/cluster IKafkaReader,IKafkaWriter,Deliverer

type IKafkaReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

type IKafkaWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Deliverer pushes a persisted message to locally connected recipients.
type Deliverer interface {
	Deliver(msg *model.Message) bool
}

// IRelay carries persisted messages from the node that stored them to the node holding
// the recipient's connection.
type IRelay interface {
	// Publish hands msg over for fanout. Errors are reported but the message is already
	// durable, so callers treat them as a lost push only.
	Publish(ctx context.Context, msg *model.Message) error

	// Run blocks until ctx is done, then notifies stopDoneNotifyC.
	Run(ctx context.Context, stopDoneNotifyC chan<- struct{})
}

// IHub provides interfaces of local Hub.
type IHub interface {
	Online()
	Offline()
	Close()
}
