// 文件: pkg/monitor/notifier.go
// 保证金事件下发 (Kafka)
//
// 风险等级越级/可强平时发事件，下游是强平引擎和通知服务

package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/bwmarrin/snowflake"
)

// =============================================================================
// EventSink 接口
// =============================================================================

// EventSink 保证金事件出口
//
// 生产环境用 KafkaNotifier，测试和仿真用内存实现
type EventSink interface {
	Publish(ctx context.Context, event MarginEvent) error
	Close() error
}

// =============================================================================
// Kafka 实现
// =============================================================================

// NotifierConfig Kafka 通知配置
type NotifierConfig struct {
	Brokers        []string      // Kafka broker 地址列表
	Topic          string        // 事件 topic
	RequiredAcks   int           // 确认模式: 0=不等待, 1=leader确认, -1=全部确认
	Compression    string        // 压缩方式: none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration // 刷新间隔
	FlushMessages  int           // 批量消息数
	MaxRetries     int           // 最大重试次数
	NodeID         int64         // 雪花节点 ID (事件 ID 生成)
}

// DefaultNotifierConfig 默认配置
func DefaultNotifierConfig(brokers []string) NotifierConfig {
	return NotifierConfig{
		Brokers:        brokers,
		Topic:          "margin.events",
		RequiredAcks:   1,
		Compression:    "snappy",
		FlushFrequency: 100 * time.Millisecond,
		FlushMessages:  100,
		MaxRetries:     3,
		NodeID:         1,
	}
}

// KafkaNotifier 保证金事件的 Kafka 发布器
//
// 异步发送。分区 key 用 userID，同一账户的事件保证顺序。
type KafkaNotifier struct {
	producer sarama.AsyncProducer
	topic    string
	node     *snowflake.Node

	// 统计
	sentCount  atomic.Int64
	errorCount atomic.Int64

	// 生命周期
	closed atomic.Bool
	wg     sync.WaitGroup
}

var _ EventSink = (*KafkaNotifier)(nil)

// NewKafkaNotifier 创建 Kafka 通知器
func NewKafkaNotifier(cfg NotifierConfig) (*KafkaNotifier, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node: %w", err)
	}

	saramaConfig := sarama.NewConfig()

	switch cfg.RequiredAcks {
	case 0:
		saramaConfig.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	default:
		saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch cfg.Compression {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	saramaConfig.Producer.Flush.Frequency = cfg.FlushFrequency
	saramaConfig.Producer.Flush.Messages = cfg.FlushMessages
	saramaConfig.Producer.Retry.Max = cfg.MaxRetries

	// 异步模式: 只回传错误
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	n := &KafkaNotifier{
		producer: producer,
		topic:    cfg.Topic,
		node:     node,
	}

	n.wg.Add(1)
	go n.handleErrors()

	return n, nil
}

// Publish 发布保证金事件 (异步)
//
// EventID 为空时用雪花算法补齐
func (n *KafkaNotifier) Publish(_ context.Context, event MarginEvent) error {
	if n.closed.Load() {
		return fmt.Errorf("notifier is closed")
	}

	if event.EventID == 0 {
		event.EventID = n.node.Generate().Int64()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serialize margin event: %w", err)
	}

	n.producer.Input() <- &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(event.UserID, 10)),
		Value: sarama.ByteEncoder(data),
	}
	n.sentCount.Add(1)

	return nil
}

func (n *KafkaNotifier) handleErrors() {
	defer n.wg.Done()

	for err := range n.producer.Errors() {
		n.errorCount.Add(1)
		log.Printf("[Notifier] send error: topic=%s, err=%v", err.Msg.Topic, err.Err)
	}
}

// NotifierStats 统计信息
type NotifierStats struct {
	SentCount  int64
	ErrorCount int64
}

// Stats 获取统计信息
func (n *KafkaNotifier) Stats() NotifierStats {
	return NotifierStats{
		SentCount:  n.sentCount.Load(),
		ErrorCount: n.errorCount.Load(),
	}
}

// Close 关闭通知器
func (n *KafkaNotifier) Close() error {
	if n.closed.Swap(true) {
		return nil // 已经关闭
	}

	err := n.producer.Close()
	n.wg.Wait() // 等待错误处理完成

	return err
}

// =============================================================================
// 日志实现 (仿真/降级用)
// =============================================================================

// LogSink 把事件打到日志，仿真和 Kafka 不可用时的降级出口
type LogSink struct{}

var _ EventSink = (*LogSink)(nil)

func (LogSink) Publish(_ context.Context, event MarginEvent) error {
	log.Printf("[Notifier] margin event: user=%d level=%s ratio=%dbps free=%d",
		event.UserID, event.Level, event.RiskRatioBps, event.FreeCollateral)
	return nil
}

func (LogSink) Close() error { return nil }
