// internal/ledger/memory.go
package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cantina/internal/faults"
)

// MemoryRepository is an in-memory Repository used by tests and local runs.
// It honors the same guard semantics as the Postgres implementation.
type MemoryRepository struct {
	mu           sync.Mutex
	members      map[uuid.UUID]*Member
	reservations map[uuid.UUID]*Reservation

	// OverdueCounts lets tests stand in for the invoices table.
	OverdueCounts map[uuid.UUID]int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		members:       make(map[uuid.UUID]*Member),
		reservations:  make(map[uuid.UUID]*Reservation),
		OverdueCounts: make(map[uuid.UUID]int),
	}
}

func (r *MemoryRepository) InsertMember(_ context.Context, m *Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.members[m.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetMember(_ context.Context, id uuid.UUID) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return nil, faults.New(faults.CodeNotFound, "member %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryRepository) SetMemberStatus(_ context.Context, id uuid.UUID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return faults.New(faults.CodeNotFound, "member %s not found", id)
	}
	m.Status = status
	m.Version++
	return nil
}

func (r *MemoryRepository) ListActiveMembers(_ context.Context) ([]*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var members []*Member
	for _, m := range r.members {
		if m.Status == MemberStatusActive {
			cp := *m
			members = append(members, &cp)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].CreatedAt.Before(members[j].CreatedAt) })
	return members, nil
}

func (r *MemoryRepository) SettleDebit(_ context.Context, memberID uuid.UUID, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberID]
	if !ok {
		return faults.New(faults.CodeNotFound, "member %s not found", memberID)
	}
	m.CreditUsed = decimal.Max(m.CreditUsed.Sub(amount), decimal.Zero)
	m.Version++
	return nil
}

func (r *MemoryRepository) CountOverdueInvoices(_ context.Context, memberID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.OverdueCounts[memberID], nil
}

func (r *MemoryRepository) ReserveCredit(_ context.Context, memberID uuid.UUID, version int, res *Reservation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberID]
	if !ok {
		return false, faults.New(faults.CodeNotFound, "member %s not found", memberID)
	}
	if m.Version != version || m.Status != MemberStatusActive {
		return false, nil
	}
	newUsed := m.CreditUsed.Add(res.Amount)
	if newUsed.GreaterThan(m.CreditLimit) {
		return false, nil
	}
	m.CreditUsed = newUsed
	m.Version++
	cp := *res
	r.reservations[res.ID] = &cp
	return true, nil
}

func (r *MemoryRepository) GetReservation(_ context.Context, id uuid.UUID) (*Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return nil, faults.New(faults.CodeNotFound, "reservation %s not found", id)
	}
	cp := *res
	return &cp, nil
}

func (r *MemoryRepository) ReleaseReservation(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return false, faults.New(faults.CodeNotFound, "reservation %s not found", id)
	}
	if res.Status != ReservationHeld {
		return false, nil
	}
	res.Status = ReservationReleased
	m := r.members[res.MemberID]
	m.CreditUsed = m.CreditUsed.Sub(res.Amount)
	m.Version++
	return true, nil
}

func (r *MemoryRepository) CommitReservation(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return false, faults.New(faults.CodeNotFound, "reservation %s not found", id)
	}
	if res.Status != ReservationHeld {
		return false, nil
	}
	res.Status = ReservationCommitted
	return true, nil
}
