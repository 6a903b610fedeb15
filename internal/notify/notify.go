// Package notify содержит очередь кратковременных уведомлений.
// Вместо единственного перезаписываемого слота — ограниченная FIFO-очередь
// с истечением по времени, чтобы одновременные сообщения не терялись.
package notify

import (
	"sync"
	"time"
)

// Kind описывает тип уведомления.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

const (
	// DefaultTTL — время показа уведомления до автоматического скрытия.
	DefaultTTL = 4 * time.Second
	// DefaultCap — максимум ожидающих уведомлений на получателя.
	DefaultCap = 8
)

// Notification описывает одно уведомление для пользователя.
type Notification struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`

	expiresAt time.Time
}

// Queue хранит ожидающие уведомления по ключу получателя.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]Notification

	ttl time.Duration
	cap int
	now func() time.Time
}

// NewQueue создаёт очередь с TTL и вместимостью по умолчанию.
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[string][]Notification),
		ttl:     DefaultTTL,
		cap:     DefaultCap,
		now:     time.Now,
	}
}

// Push добавляет уведомление получателю. При переполнении вытесняется самое старое.
func (q *Queue) Push(key string, kind Kind, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.dropExpired(q.pending[key])

	list = append(list, Notification{
		Kind:      kind,
		Message:   message,
		expiresAt: q.now().Add(q.ttl),
	})
	if len(list) > q.cap {
		list = list[len(list)-q.cap:]
	}

	q.pending[key] = list
}

// Pull забирает все непросроченные уведомления получателя в порядке добавления.
func (q *Queue) Pull(key string) []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.dropExpired(q.pending[key])
	delete(q.pending, key)

	return list
}

func (q *Queue) dropExpired(list []Notification) []Notification {
	if len(list) == 0 {
		return nil
	}

	now := q.now()
	fresh := list[:0]
	for _, n := range list {
		if n.expiresAt.After(now) {
			fresh = append(fresh, n)
		}
	}

	if len(fresh) == 0 {
		return nil
	}
	return fresh
}
