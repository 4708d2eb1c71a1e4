// 文件: pkg/market/feed.go
// NATS 价格订阅 - 把外部推送的预言机价格喂给 OracleService
//
// 主题约定:
//   oracle.price.spot  现货价格
//   oracle.price.perp  永续价格

package market

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"marginx.com/pkg/margin"
)

const (
	SubjectSpotPrice = "oracle.price.spot"
	SubjectPerpPrice = "oracle.price.perp"
)

// PriceUpdate 价格推送消息体
type PriceUpdate struct {
	MarketIndex uint16 `json:"market_index"`
	Price       int64  `json:"price"`     // 1e8 精度
	Timestamp   int64  `json:"timestamp"` // Unix 毫秒
}

// Feed NATS 价格订阅器
type Feed struct {
	conn *nats.Conn
	svc  *OracleService
	subs []*nats.Subscription
}

// NewFeed 连接 NATS 并绑定到预言机服务
func NewFeed(url string, svc *OracleService) (*Feed, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Feed{conn: conn, svc: svc}, nil
}

// Start 订阅价格主题
func (f *Feed) Start() error {
	spotSub, err := f.conn.Subscribe(SubjectSpotPrice, func(msg *nats.Msg) {
		f.handle(margin.KindSpot, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectSpotPrice, err)
	}
	f.subs = append(f.subs, spotSub)

	perpSub, err := f.conn.Subscribe(SubjectPerpPrice, func(msg *nats.Msg) {
		f.handle(margin.KindPerp, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectPerpPrice, err)
	}
	f.subs = append(f.subs, perpSub)

	return nil
}

// handle 解析并应用一条价格推送
// 坏消息 (解析失败/未注册市场) 打日志后丢弃，不能让一条脏数据拖垮订阅
func (f *Feed) handle(kind margin.PositionKind, data []byte) {
	var update PriceUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		log.Printf("[Feed] drop malformed price update: %v", err)
		return
	}

	var err error
	switch kind {
	case margin.KindSpot:
		err = f.svc.UpdateSpotOracle(update.MarketIndex, update.Price, update.Timestamp)
	case margin.KindPerp:
		err = f.svc.UpdatePerpOracle(update.MarketIndex, update.Price, update.Timestamp)
	}
	if err != nil {
		log.Printf("[Feed] drop price update for %s market %d: %v", kind, update.MarketIndex, err)
	}
}

// Close 退订并断开连接
func (f *Feed) Close() {
	for _, sub := range f.subs {
		sub.Unsubscribe()
	}
	f.conn.Close()
}

// =============================================================================
// 发布端 (测试/模拟器用)
// =============================================================================

// PublishPrice 发布一条价格更新
func PublishPrice(conn *nats.Conn, kind margin.PositionKind, update PriceUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	subject := SubjectSpotPrice
	if kind == margin.KindPerp {
		subject = SubjectPerpPrice
	}
	return conn.Publish(subject, data)
}
