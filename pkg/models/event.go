package models

import (
	"fmt"
	"math/big"
	"time"

	"eventchain/internal/units"
)

// EventRecord 链上活动的展示记录
type EventRecord struct {
	ID               uint64 `json:"id"`
	Admin            string `json:"admin,omitempty"`
	Name             string `json:"name"`
	Date             int64  `json:"date"`              // Unix秒
	Price            string `json:"price"`             // 单价，wei的十进制字符串
	TicketCount      uint64 `json:"ticket_count"`      // 发行总数
	TicketsRemaining uint64 `json:"tickets_remaining"` // 剩余票数
}

// PriceWei 返回单价的wei值
func (e *EventRecord) PriceWei() (*big.Int, error) {
	wei, ok := new(big.Int).SetString(e.Price, 10)
	if !ok {
		return nil, fmt.Errorf("活动 %d 的价格格式无效: %q", e.ID, e.Price)
	}
	return wei, nil
}

// PriceEther 以ether为单位的单价，例如 "0.5"
func (e *EventRecord) PriceEther() string {
	wei, err := e.PriceWei()
	if err != nil {
		return e.Price
	}
	return units.FormatEther(wei)
}

// DateTime 活动时间（UTC）
func (e *EventRecord) DateTime() time.Time {
	return time.Unix(e.Date, 0).UTC()
}

// SoldOut 是否已售罄
func (e *EventRecord) SoldOut() bool {
	return e.TicketsRemaining == 0
}

// Clone 返回记录副本
func (e *EventRecord) Clone() *EventRecord {
	c := *e
	return &c
}

// CreateEventRequest 创建活动的参数
type CreateEventRequest struct {
	Name         string `json:"name" validate:"notblank,max=200"`
	Date         int64  `json:"date" validate:"gt=0"`          // Unix秒
	UnitPrice    string `json:"unit_price" validate:"ether"`   // 以ether为单位的十进制字符串
	TotalTickets uint64 `json:"total_tickets" validate:"gt=0"` // 发行总数
}

// PurchaseIntent 一次购票请求，不做持久化
type PurchaseIntent struct {
	EventID  uint64 `json:"event_id"`
	Quantity uint64 `json:"quantity" validate:"gte=1"`
}

// FindEvent 在快照中按ID查找活动
func FindEvent(snapshot []*EventRecord, id uint64) (*EventRecord, bool) {
	for _, e := range snapshot {
		if e != nil && e.ID == id {
			return e, true
		}
	}
	return nil, false
}
