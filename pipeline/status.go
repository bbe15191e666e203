package pipeline

import (
	"sync"
	"time"
)

// Status is the lifecycle position of one order.
type Status string

const (
	StatusReceived  Status = "received"
	StatusEvaluated Status = "evaluated"
	StatusInitiated Status = "initiated"
	StatusFilled    Status = "filled"
	StatusValidated Status = "validated"
	StatusClaimed   Status = "claimed"

	// terminals
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Tracked is the pipeline's record of one order.
type Tracked struct {
	Id        string
	Status    Status
	Path      string
	Reason    string // set for rejected/failed orders
	BtcTxId   string // set after a Bitcoin fill
	FillTxId  string // set after an EVM fill
	UpdatedAt time.Time
}

type tracker struct {
	mu     sync.Mutex
	orders map[string]*Tracked
}

func newTracker() *tracker {
	return &tracker{orders: make(map[string]*Tracked)}
}

func (t *tracker) set(id string, mutate func(*Tracked)) *Tracked {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.orders[id]
	if !ok {
		rec = &Tracked{Id: id}
		t.orders[id] = rec
	}
	mutate(rec)
	rec.UpdatedAt = time.Now()
	return rec
}

func (t *tracker) get(id string) (*Tracked, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.orders[id]
	if !ok {
		return nil, false
	}
	snapshot := *rec
	return &snapshot, true
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.orders)
}
