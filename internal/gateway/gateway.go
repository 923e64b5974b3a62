package gateway

import (
	"fmt"
	"strings"
)

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop
	Start() error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Router delivers notifications to the gateway named by the chat ID prefix,
// as in "discord:1234". IDs without a prefix go to the default gateway.
type Router struct {
	Default  string
	gateways map[string]Messenger
}

func NewRouter(defaultName string) *Router {
	return &Router{Default: defaultName, gateways: make(map[string]Messenger)}
}

func (r *Router) Add(name string, m Messenger) {
	r.gateways[name] = m
	if r.Default == "" {
		r.Default = name
	}
}

// Len returns the number of registered gateways.
func (r *Router) Len() int {
	return len(r.gateways)
}

func (r *Router) Send(chatID string, text string) error {
	name, id := r.Default, chatID
	if prefix, rest, ok := strings.Cut(chatID, ":"); ok {
		if _, known := r.gateways[prefix]; known {
			name, id = prefix, rest
		}
	}
	m, ok := r.gateways[name]
	if !ok {
		return fmt.Errorf("no gateway for chat %s", chatID)
	}
	return m.Send(id, text)
}

// Stop stops every registered gateway.
func (r *Router) Stop() {
	for _, m := range r.gateways {
		m.Stop()
	}
}
