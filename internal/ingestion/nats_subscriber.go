package ingestion

import (
	"context"
	"fmt"
	"time"

	"CoverLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// StreamName holds every inbound transaction, one subject per TxType.
	StreamName    = "COVER_TX"
	SubjectPrefix = "cover.tx."
	SubjectAll    = SubjectPrefix + ">"

	DefaultConsumer = "coverledger-core"
)

// NATSSubscriber consumes the inbound transaction stream and hands raw
// messages to the ingestion loop.
type NATSSubscriber struct {
	js       jetstream.JetStream
	rawChan  chan<- RawTx
	consumer jetstream.ConsumeContext
	log      zerolog.Logger
}

// RawTx is an undecoded transaction as received from NATS.
type RawTx struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ack once the tx is queued for the core
	NakFunc   func() // nak on shutdown, the message is redelivered
}

// SubscriberConfig tunes the durable consumer.
type SubscriberConfig struct {
	ConsumerName string
	AckWait      time.Duration
	MaxDeliver   int
}

func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		ConsumerName: DefaultConsumer,
		AckWait:      30 * time.Second,
		MaxDeliver:   5,
	}
}

// SubjectFor returns the inbound subject for a transaction type name.
func SubjectFor(txType string) string {
	return SubjectPrefix + txType
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawTx) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		log:     observability.NewLogger("nats-subscriber"),
	}
}

// Subscribe attaches a single ordered durable consumer to the whole stream.
// One consumer keeps per-sender nonce order intact.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, cfg SubscriberConfig) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		FilterSubject: SubjectAll,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawTx{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { _ = msg.Ack() },
			NakFunc:   func() { _ = msg.Nak() },
		}

		select {
		case ns.rawChan <- raw:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
	}

	ns.consumer = cc
	ns.log.Info().Str("subject", SubjectAll).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	return nil
}

// EnsureStreams creates the inbound stream if it does not exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	cfg := jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectAll},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	return nil
}

func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.log.Info().Msg("NATS subscriber stopped")
}

// ConnectNATS dials NATS with unlimited reconnects and returns a JetStream handle.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.Name("coverledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
