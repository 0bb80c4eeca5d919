package filing

import (
	"sync"
	"time"
)

// Clock 时间源，所有 SLA 计算使用同一 UTC 时钟
type Clock interface {
	Now() time.Time
}

// SystemClock 系统时钟
type SystemClock struct{}

// Now 返回当前 UTC 时间
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock 可手动推进的时钟，用于测试
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock 创建手动时钟
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

// Now 当前时间
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 推进时间
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set 设置时间
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

// HoursBetween 两个时刻之间的小时数（浮点）
func HoursBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours()
}

// AddHours 在 t 上增加小时数（支持小数）
func AddHours(t time.Time, hours float64) time.Time {
	return t.Add(time.Duration(hours * float64(time.Hour)))
}
