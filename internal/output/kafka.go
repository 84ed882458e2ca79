package output

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventchain/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

const (
	defaultActivityTopic = "eventchain_activity"
	defaultSnapshotTopic = "eventchain_snapshots"
)

// KafkaOutput Kafka输出器
type KafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string // 数据类型到topic的映射
	producer sarama.SyncProducer
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)
	logger.Infof("Kafka topics配置: %v", topics)

	// 配置Kafka生产者
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	// 创建同步生产者
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")
	return NewKafkaOutputWithProducer(producer, topics, logger), nil
}

// NewKafkaOutputWithProducer 使用已有的生产者创建输出器
func NewKafkaOutputWithProducer(producer sarama.SyncProducer, topics map[string]string, logger *logrus.Logger) *KafkaOutput {
	return &KafkaOutput{
		logger:   logger,
		topics:   topics,
		producer: producer,
	}
}

func (k *KafkaOutput) topic(kind, fallback string) string {
	if topic, exists := k.topics[kind]; exists && topic != "" {
		return topic
	}
	return fallback
}

// sendToKafka 发送数据到Kafka，以合约地址为key保证同一合约的消息有序
func (k *KafkaOutput) sendToKafka(topic, key string, headers map[string]string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(jsonData),
	}
	for name, value := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(value)})
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息到Kafka失败: %w", err)
	}

	k.logger.Debugf("成功发送数据到Kafka topic '%s' (partition: %d, offset: %d)", topic, partition, offset)
	return nil
}

// RecordActivity 发送操作记录
func (k *KafkaOutput) RecordActivity(_ context.Context, activity *models.Activity) error {
	if activity == nil {
		return nil
	}
	return k.sendToKafka(k.topic("activity", defaultActivityTopic), activity.Contract, map[string]string{
		"network_id": activity.NetworkID,
		"kind":       string(activity.Kind),
		"status":     string(activity.Status),
	}, activity)
}

// RecordSnapshot 发送活动快照
func (k *KafkaOutput) RecordSnapshot(_ context.Context, snapshot *models.Snapshot) error {
	if snapshot == nil {
		return nil
	}
	return k.sendToKafka(k.topic("snapshots", defaultSnapshotTopic), snapshot.Contract, map[string]string{
		"network_id": snapshot.NetworkID,
	}, snapshot)
}

// Close 关闭Kafka连接
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
