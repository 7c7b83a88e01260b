package market

import "sync"

// SubscriptionIndex is the bidirectional symbol/client map. Both sides
// are always mutated together under one lock; a client present in one
// map but not its mirror is an invariant violation.
type SubscriptionIndex struct {
	mu       sync.Mutex
	bySymbol map[string]map[string]struct{}
	byClient map[string]map[string]struct{}
}

// NewSubscriptionIndex creates an empty index.
func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{
		bySymbol: make(map[string]map[string]struct{}),
		byClient: make(map[string]map[string]struct{}),
	}
}

// Add registers client -> symbol. Returns true when this is the first
// subscriber for the symbol. Idempotent.
func (x *SubscriptionIndex) Add(clientID, symbol string) (first bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	clients, ok := x.bySymbol[symbol]
	if !ok {
		clients = make(map[string]struct{})
		x.bySymbol[symbol] = clients
	}
	if _, dup := clients[clientID]; dup {
		return false
	}
	clients[clientID] = struct{}{}

	symbols, ok := x.byClient[clientID]
	if !ok {
		symbols = make(map[string]struct{})
		x.byClient[clientID] = symbols
	}
	symbols[symbol] = struct{}{}

	return len(clients) == 1
}

// Remove drops client -> symbol. Returns true when the symbol has no
// subscribers left. Removing an absent pair is a no-op.
func (x *SubscriptionIndex) Remove(clientID, symbol string) (last bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.removeLocked(clientID, symbol)
}

// RemoveClient drops every subscription of a client and returns the
// symbols that lost their last subscriber.
func (x *SubscriptionIndex) RemoveClient(clientID string) (released []string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for symbol := range x.byClient[clientID] {
		if x.removeLocked(clientID, symbol) {
			released = append(released, symbol)
		}
	}
	return released
}

func (x *SubscriptionIndex) removeLocked(clientID, symbol string) (last bool) {
	clients, ok := x.bySymbol[symbol]
	if !ok {
		return false
	}
	if _, subscribed := clients[clientID]; !subscribed {
		return false
	}
	delete(clients, clientID)
	if len(clients) == 0 {
		delete(x.bySymbol, symbol)
		last = true
	}

	symbols := x.byClient[clientID]
	delete(symbols, symbol)
	if len(symbols) == 0 {
		delete(x.byClient, clientID)
	}
	return last
}

// Clients returns the subscribers of a symbol.
func (x *SubscriptionIndex) Clients(symbol string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]string, 0, len(x.bySymbol[symbol]))
	for clientID := range x.bySymbol[symbol] {
		out = append(out, clientID)
	}
	return out
}

// Symbols returns the subscriptions of a client.
func (x *SubscriptionIndex) Symbols(clientID string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]string, 0, len(x.byClient[clientID]))
	for symbol := range x.byClient[clientID] {
		out = append(out, symbol)
	}
	return out
}

// Counts returns the sizes of both sides of the index.
func (x *SubscriptionIndex) Counts() (symbols, clients int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.bySymbol), len(x.byClient)
}
