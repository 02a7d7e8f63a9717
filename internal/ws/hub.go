package ws

import (
	"log/slog"
	"sync"

	"github.com/botdeployer/deployer/internal/deploy"
)

const subscriberBuffer = 64

// Hub fans deployment updates out to subscribers by deployment id.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan deploy.Update]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[chan deploy.Update]struct{}),
		logger: logger,
	}
}

// Subscribe registers for updates of one deployment. The channel is closed
// by the returned cancel func, or by the hub if the subscriber falls behind.
func (h *Hub) Subscribe(id string) (<-chan deploy.Update, func()) {
	ch := make(chan deploy.Update, subscriberBuffer)

	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[chan deploy.Update]struct{})
	}
	h.subs[id][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.remove(id, ch)
		})
	}
}

// Publish never blocks; a subscriber whose buffer is full is dropped.
// It matches deploy.Listener so it can be passed to deploy.WithListener.
func (h *Hub) Publish(u deploy.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[u.ID] {
		select {
		case ch <- u:
		default:
			h.logger.Warn("dropping slow stream subscriber", "deployment_id", u.ID)
			h.remove(u.ID, ch)
		}
	}
}

// Subscribers returns the number of live subscriptions for id.
func (h *Hub) Subscribers(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[id])
}

// remove must be called with mu held.
func (h *Hub) remove(id string, ch chan deploy.Update) {
	clients, ok := h.subs[id]
	if !ok {
		return
	}
	if _, ok := clients[ch]; !ok {
		return
	}
	delete(clients, ch)
	close(ch)
	if len(clients) == 0 {
		delete(h.subs, id)
	}
}
