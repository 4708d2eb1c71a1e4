// 文件: pkg/monitor/consumer.go
// NATS 仓位事件订阅 - 把成交/借还产生的仓位变更喂给监控引擎

package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// Consumer 仓位变更事件订阅器
type Consumer struct {
	conn *nats.Conn
	mon  *Monitor
	sub  *nats.Subscription
}

// NewConsumer 连接 NATS 并绑定监控引擎
func NewConsumer(url string, mon *Monitor) (*Consumer, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Consumer{conn: conn, mon: mon}, nil
}

// Start 订阅仓位变更主题
//
// 同一账户的事件由上游按 user_id 保序推送，这里顺序消费即可
func (c *Consumer) Start() error {
	sub, err := c.conn.Subscribe(SubjectPositionChanged, func(msg *nats.Msg) {
		var ev PositionChangedEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[Consumer] drop malformed position event: %v", err)
			return
		}
		if err := c.mon.OnPositionChanged(context.Background(), ev); err != nil {
			log.Printf("[Consumer] position event failed: user=%d err=%v", ev.UserID, err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectPositionChanged, err)
	}
	c.sub = sub
	return nil
}

// Close 退订并断开连接
func (c *Consumer) Close() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	c.conn.Close()
}

// PublishPositionChanged 发布一条仓位变更 (测试/模拟器用)
func PublishPositionChanged(conn *nats.Conn, ev PositionChangedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Publish(SubjectPositionChanged, data)
}
