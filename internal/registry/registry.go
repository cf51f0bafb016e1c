package registry

import (
	"iter"
	"sync"

	"github.com/shopspring/decimal"

	"topup/internal/core"
)

// MaxBeneficiaries is the registry capacity.
const MaxBeneficiaries = 5

// Registry is the in-memory store of beneficiaries and their transaction
// histories. Reads hand out copies; the only mutations are Register and Record.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	items    []core.Beneficiary
}

// New creates an empty registry. A non-positive capacity selects MaxBeneficiaries.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = MaxBeneficiaries
	}
	return &Registry{capacity: capacity}
}

// Register validates the nickname and capacity, starts the beneficiary with an
// empty history and appends it. Duplicate nicknames are accepted.
func (r *Registry) Register(b core.Beneficiary) error {
	if err := b.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) >= r.capacity {
		return core.ErrRegistryFull
	}
	b.Transactions = []core.Transaction{}
	b.TotalToppedUp = decimal.Zero
	r.items = append(r.items, b)
	return nil
}

// Find returns the first beneficiary registered under nickname.
func (r *Registry) Find(nickname string) (core.Beneficiary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexOf(nickname); i >= 0 {
		return r.items[i].Clone(), true
	}
	return core.Beneficiary{}, false
}

// Record appends tx to the first beneficiary registered under nickname and
// adds its amount to the running total.
func (r *Registry) Record(nickname string, tx core.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(nickname)
	if i < 0 {
		return core.ErrBeneficiaryNotFound
	}
	r.items[i].Transactions = append(r.items[i].Transactions, tx)
	r.items[i].TotalToppedUp = r.items[i].TotalToppedUp.Add(tx.Amount)
	return nil
}

// List returns the beneficiaries in registration order. The sequence is a
// snapshot taken when List is called: it can be ranged over any number of
// times and never reflects later registrations or transactions.
func (r *Registry) List() iter.Seq[core.Beneficiary] {
	snapshot := r.Snapshot()
	return func(yield func(core.Beneficiary) bool) {
		for _, b := range snapshot {
			if !yield(b.Clone()) {
				return
			}
		}
	}
}

// Snapshot returns deep copies of every beneficiary in registration order.
func (r *Registry) Snapshot() []core.Beneficiary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Beneficiary, len(r.items))
	for i, b := range r.items {
		out[i] = b.Clone()
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry) indexOf(nickname string) int {
	for i := range r.items {
		if r.items[i].Nickname == nickname {
			return i
		}
	}
	return -1
}
