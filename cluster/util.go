package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mqy/pairchat/model"
)

func encodeKafkaMsg(msg *model.Message, limit int) (kafka.Message, error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("error marshal message: %q, err: %v", msg.ID, err)
	}
	if len(value) > limit {
		return kafka.Message{}, fmt.Errorf("relay: message exceeds max limit: %d bytes", limit)
	}
	// Keyed by receiver so one receiver's messages stay in one partition, in order.
	return kafka.Message{
		Key:   []byte(msg.ReceiverID),
		Value: value,
	}, nil
}

// decodeKafkaMsg returns nil for values that must be skipped: oversize, bad format,
// incomplete or older than maxAge (pushes that late are useless, history has them).
func decodeKafkaMsg(msg *kafka.Message, limit int, maxAge time.Duration) (*model.Message, error) {
	if len(msg.Value) > limit {
		return nil, fmt.Errorf("kafka value out of limit: %d bytes", len(msg.Value))
	}
	var v model.Message
	if err := json.Unmarshal(msg.Value, &v); err != nil {
		return nil, fmt.Errorf("unmarshal kafka msg value: %v", err)
	}
	if !v.Valid() {
		return nil, errors.New("kafka msg misses id or participants")
	}
	if maxAge > 0 && !msg.Time.IsZero() && time.Since(msg.Time) > maxAge {
		return nil, fmt.Errorf("kafka msg too old, offset: %d, time: %s", msg.Offset, msg.Time)
	}
	return &v, nil
}
