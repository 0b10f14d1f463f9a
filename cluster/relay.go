package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/mqy/pairchat/model"
	"github.com/mqy/pairchat/retry"
)

const (
	kafkaReadTimeout    = 10 * time.Second
	kafkaWriteTimeout   = 10 * time.Second
	kafkaPublishTimeout = 3 * time.Second
)

type RelayCfg struct {
	NodeId string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupId string

	// PayloadMaxBytes limits encoded messages in both directions.
	PayloadMaxBytes int
	// MaxAge drops consumed messages older than this; zero keeps all.
	MaxAge time.Duration
}

// KafkaRelay publishes persisted messages to a kafka topic and consumes the topic to push
// them to locally connected recipients. Every node joins its own consumer group, so each
// node sees every message and delivers to whoever is connected locally.
type KafkaRelay struct {
	deliverer     Deliverer
	kafkaReader   IKafkaReader
	kafkaWriter   IKafkaWriter
	valueMaxBytes int
	maxAge        time.Duration
	wg            sync.WaitGroup
}

func NewKafkaRelay(conf *RelayCfg, deliverer Deliverer) *KafkaRelay {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     conf.KafkaBrokers,
		GroupID:     fmt.Sprintf("%s-%s", conf.KafkaGroupId, conf.NodeId),
		Topic:       conf.KafkaTopic,
		StartOffset: kafka.LastOffset,
		Dialer: &kafka.Dialer{
			Timeout:   kafkaReadTimeout,
			DualStack: true,
		},
	})

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  conf.KafkaBrokers,
		Topic:    conf.KafkaTopic,
		Balancer: &kafka.Hash{},
		Dialer: &kafka.Dialer{
			Timeout:   kafkaWriteTimeout,
			DualStack: true,
		},
	})

	return newKafkaRelay(deliverer, reader, writer, conf.PayloadMaxBytes, conf.MaxAge)
}

func newKafkaRelay(deliverer Deliverer, reader IKafkaReader, writer IKafkaWriter,
	valueMaxBytes int, maxAge time.Duration) *KafkaRelay {
	return &KafkaRelay{
		deliverer:     deliverer,
		kafkaReader:   reader,
		kafkaWriter:   writer,
		valueMaxBytes: valueMaxBytes,
		maxAge:        maxAge,
	}
}

// Publish implements `IRelay.Publish`.
func (s *KafkaRelay) Publish(ctx context.Context, msg *model.Message) error {
	km, err := encodeKafkaMsg(msg, s.valueMaxBytes)
	if err != nil {
		return err
	}

	ctx2, cancel := context.WithTimeout(ctx, kafkaPublishTimeout)
	defer cancel()
	if err := s.kafkaWriter.WriteMessages(ctx2, km); err != nil {
		return fmt.Errorf("error write to kafka: %w", err)
	}
	return nil
}

// Run implements `IRelay.Run`. It may block at reading kafka message.
func (s *KafkaRelay) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	glog.Info("relay: starting")

	s.wg.Add(1)
	go s.consumeLoop(ctx)

	glog.Info("relay: ready")

	<-ctx.Done()

	glog.Info("relay: stopping")
	_ = s.kafkaReader.Close() // slow: take about 7s

	glog.Info("relay: stop wait")
	s.wg.Wait()
	_ = s.kafkaWriter.Close()

	glog.Info("relay: stopped")
	stopDoneNotifyC <- struct{}{}
}

func (s *KafkaRelay) consumeLoop(ctx context.Context) {
	glog.Info("relay: consume loop enter")

	defer func() {
		glog.Info("relay: consume loop exited")
		s.wg.Done()
	}()

	var sleep time.Duration

	for {
		glog.V(5).Info("relay: fetching message ...")
		msg, err := s.kafkaReader.FetchMessage(ctx)
		if err != nil {
			glog.Errorf("relay: fetch from kafka err: %v", err)
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				glog.V(5).Info("relay: fetch was cancelled")
				return
			}
			if !retry.Sleep(ctx, &sleep) {
				return
			}
			continue
		}
		sleep = 0

		// skip: bad format or too old.
		if v, err := decodeKafkaMsg(&msg, s.valueMaxBytes, s.maxAge); err != nil {
			glog.Errorf("relay: skip offset %d: %v", msg.Offset, err)
		} else {
			s.deliverer.Deliver(v)
		}

		if !s.commit(ctx, msg) {
			return
		}
	}
}

// commit retries until the offset is committed. An uncommitted message is fetched again
// and pushed twice, which clients dedup by id.
func (s *KafkaRelay) commit(ctx context.Context, msg kafka.Message) bool {
	var sleep time.Duration
	for {
		err := s.kafkaReader.CommitMessages(ctx, msg)
		if err == nil {
			return true
		}
		glog.Errorf("relay: commit to kafka err: %v", err)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			glog.V(5).Info("relay: commit to kafka was cancelled")
			return false
		}
		if !retry.Sleep(ctx, &sleep) {
			return false
		}
	}
}
