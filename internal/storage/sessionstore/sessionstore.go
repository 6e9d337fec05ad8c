// Package sessionstore is the ephemeral record store: an ordered in-memory list
// owned by one session, with JSON export/import and a bulk clear.
//
// A Store is not safe for concurrent use. Each session owns its own Store.
package sessionstore

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"slices"
	"time"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/pkg/errors"
)

const firstID uint64 = 1

// maxID keeps ids inside the BIGSERIAL range of the durable store, so the
// counter never wraps.
const maxID uint64 = math.MaxInt64

// ErrInvalidImport is returned (wrapped) for any import document that cannot be applied.
var ErrInvalidImport = errors.New("invalid import document")

type Store struct {
	packages []*models.Package
	nextID   uint64
}

func New() *Store {
	return &Store{nextID: firstID}
}

func (s *Store) CreatePackage(_ context.Context, fields models.ExtractedFields, addedAt time.Time) (*models.Package, error) {
	p := &models.Package{
		ID:             s.nextID,
		TrackingID:     fields.TrackingID,
		PickupCode:     fields.PickupCode,
		PickupLocation: fields.PickupLocation,
		Status:         models.PackageStatusPending,
		AddedTime:      addedAt,
	}
	s.packages = append(s.packages, p)
	s.nextID++

	out := *p
	return &out, nil
}

// ListPendingPackages returns copies of the pending records, newest first.
// Records added in the same second keep reverse insertion order.
func (s *Store) ListPendingPackages(_ context.Context) ([]*models.Package, error) {
	out := make([]*models.Package, 0, len(s.packages))
	for i := len(s.packages) - 1; i >= 0; i-- {
		if p := s.packages[i]; p.Pending() {
			cp := *p
			out = append(out, &cp)
		}
	}
	slices.SortStableFunc(out, func(a, b *models.Package) int {
		return b.AddedTime.Compare(a.AddedTime)
	})
	return out, nil
}

func (s *Store) MarkCollected(_ context.Context, id uint64) (bool, error) {
	for _, p := range s.packages {
		if p.ID != id {
			continue
		}
		if !p.Pending() {
			return false, nil
		}
		p.Status = models.PackageStatusCollected
		return true, nil
	}
	return false, nil
}

func (s *Store) Len() int {
	return len(s.packages)
}

func (s *Store) NextID() uint64 {
	return s.nextID
}

// Clear drops every record and resets the id counter.
func (s *Store) Clear() {
	s.packages = nil
	s.nextID = firstID
}

// Export returns every record, in insertion order, as an indented JSON array.
func (s *Store) Export() ([]byte, error) {
	list := s.packages
	if list == nil {
		list = []*models.Package{}
	}
	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal export")
	}
	return b, nil
}

// Import replaces the whole list with the records from an exported document and
// moves the counter past the highest id. On error the store is left untouched.
func (s *Store) Import(data []byte) (int, error) {
	list, err := decodeList(data)
	if err != nil {
		return 0, err
	}

	s.packages = list
	s.nextID = nextAfter(list)
	return len(list), nil
}

func decodeList(data []byte) ([]*models.Package, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.Wrap(ErrInvalidImport, "expected a JSON array of packages")
	}

	var list []*models.Package
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, errors.Wrapf(ErrInvalidImport, "decode packages: %v", err)
	}

	seen := make(map[uint64]struct{}, len(list))
	for i, p := range list {
		if p == nil {
			return nil, errors.Wrapf(ErrInvalidImport, "item %d is null", i)
		}
		if p.ID == 0 {
			return nil, errors.Wrapf(ErrInvalidImport, "item %d has no id", i)
		}
		if p.ID >= maxID {
			return nil, errors.Wrapf(ErrInvalidImport, "item %d: id %d is out of range", i, p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, errors.Wrapf(ErrInvalidImport, "duplicate id %d", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return list, nil
}

func nextAfter(list []*models.Package) uint64 {
	next := firstID
	for _, p := range list {
		if p.ID >= next {
			next = p.ID + 1
		}
	}
	return next
}

type snapshot struct {
	NextID   uint64            `json:"next_id"`
	Packages []*models.Package `json:"packages"`
}

// Snapshot serializes the full session state, counter included.
func (s *Store) Snapshot() ([]byte, error) {
	b, err := json.Marshal(snapshot{NextID: s.nextID, Packages: s.packages})
	if err != nil {
		return nil, errors.Wrap(err, "marshal snapshot")
	}
	return b, nil
}

// Restore rebuilds a Store from Snapshot output.
func Restore(b []byte) (*Store, error) {
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, errors.Wrap(err, "unmarshal snapshot")
	}
	st := &Store{packages: snap.Packages, nextID: snap.NextID}
	if floor := nextAfter(snap.Packages); st.nextID < floor {
		st.nextID = floor
	}
	return st, nil
}
