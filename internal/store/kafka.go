package store

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"

	"tradeflow/logger"
	"tradeflow/models"
)

type KafkaConfig struct {
	Brokers      []string
	TradeTopic   string
	HistoryTopic string
}

// KafkaStore streams trades to a topic keyed by exchange and trade ID, so a
// compacted topic deduplicates re-imported ranges on the broker side.
type KafkaStore struct {
	trades  *kafka.Writer
	history *kafka.Writer
	log     *logger.Log
}

func NewKafkaStore(cfg KafkaConfig) (*KafkaStore, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	log := logger.GetLogger()
	ks := &KafkaStore{
		trades: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.TradeTopic,
			Balancer: &kafka.LeastBytes{},
		},
		history: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.HistoryTopic,
			Balancer: &kafka.LeastBytes{},
		},
		log: log,
	}
	log.WithComponent("kafka_store").WithFields(logger.Fields{
		"brokers":       cfg.Brokers,
		"trade_topic":   cfg.TradeTopic,
		"history_topic": cfg.HistoryTopic,
	}).Debug("kafka store initialized")
	return ks, nil
}

func (k *KafkaStore) StoreTrades(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(trades))
	for _, t := range trades {
		value, err := json.Marshal(t)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(t.Exchange + ":" + t.TradeID),
			Value: value,
		})
	}
	if err := k.trades.WriteMessages(ctx, msgs...); err != nil {
		k.log.WithComponent("kafka_store").WithError(err).Error("trade batch publish failed")
		return err
	}
	logger.IncrementStoreWrite(int64(len(msgs)))
	k.log.WithComponent("kafka_store").WithFields(logger.Fields{"records": len(msgs)}).Debug("trade batch published")
	return nil
}

func (k *KafkaStore) AddToHistory(ctx context.Context, record HistoryRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return k.history.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.BatchID),
		Value: value,
	})
}

func (k *KafkaStore) Close() error {
	if err := k.trades.Close(); err != nil {
		return err
	}
	return k.history.Close()
}
