package engine

import (
	"sync"
	"time"

	"efiling/internal/filing"
)

// Event 提交后的文件状态变化
type Event struct {
	FileID         string                `json:"file_id"`
	WorkflowID     string                `json:"workflow_id"`
	Action         filing.Action         `json:"action"`
	ActorID        string                `json:"actor_id"`
	ToActor        string                `json:"to_actor,omitempty"`
	StageID        string                `json:"stage_id"`
	StageOrder     int                   `json:"stage_order"`
	WorkflowStatus filing.WorkflowStatus `json:"workflow_status"`
	FileStatus     filing.FileStatus     `json:"file_status"`
	SLAPaused      bool                  `json:"sla_paused"`
	OccurredAt     time.Time             `json:"occurred_at"`
}

// EventBusConfig 控制事件总线行为
type EventBusConfig struct {
	BufferSize int
}

// EventBus 进程内事件总线，按文件订阅
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan Event
	seq    uint64
	buffer int
}

// NewEventBus 创建事件总线
func NewEventBus(cfg *EventBusConfig) *EventBus {
	buffer := 8
	if cfg != nil && cfg.BufferSize > 0 {
		buffer = cfg.BufferSize
	}
	return &EventBus{
		subs:   make(map[string]map[uint64]chan Event),
		buffer: buffer,
	}
}

// Publish 发布事件，订阅方处理慢时丢弃
func (b *EventBus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[evt.FileID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe 订阅指定文件的事件，调用 cancel 释放
func (b *EventBus) Subscribe(fileID string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.seq++
	id := b.seq
	if _, ok := b.subs[fileID]; !ok {
		b.subs[fileID] = make(map[uint64]chan Event)
	}
	b.subs[fileID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.removeListener(fileID, id) })
	}
}

// Subscribers 当前订阅数
func (b *EventBus) Subscribers(fileID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[fileID])
}

func (b *EventBus) removeListener(fileID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if listeners, ok := b.subs[fileID]; ok {
		if ch, exists := listeners[id]; exists {
			delete(listeners, id)
			close(ch)
		}
		if len(listeners) == 0 {
			delete(b.subs, fileID)
		}
	}
}
