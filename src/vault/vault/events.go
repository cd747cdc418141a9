package vault

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type EventKind string

const (
	EventDeposit  EventKind = "Deposit"
	EventWithdraw EventKind = "Withdraw"
	EventTransfer EventKind = "Transfer"
	EventApproval EventKind = "Approval"
)

// Event mirrors the ERC-4626 and ERC-20 logs of the vault.
//
//	Deposit:  Sender deposited Assets, Owner received Shares
//	Withdraw: Sender burned Shares of Owner, Receiver got Assets
//	Transfer: Shares moved from Sender to Receiver (zero address on mint/burn)
//	Approval: Owner allowed Receiver to spend Shares
type Event struct {
	Kind     EventKind      `json:"kind"`
	Sender   common.Address `json:"sender"`
	Receiver common.Address `json:"receiver"`
	Owner    common.Address `json:"owner"`
	Assets   string         `json:"assets,omitempty"`
	Shares   string         `json:"shares,omitempty"`
}

type EventSink interface {
	Emit(event Event)
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

// MemorySink keeps emitted events in order.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Drain returns the buffered events and empties the sink.
func (s *MemorySink) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = nil
	return events
}
