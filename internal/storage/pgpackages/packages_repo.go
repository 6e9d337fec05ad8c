package pgpackages

import (
	"context"
	"time"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) CreatePackage(ctx context.Context, fields models.ExtractedFields, addedAt time.Time) (*models.Package, error) {
	p := &models.Package{
		TrackingID:     fields.TrackingID,
		PickupCode:     fields.PickupCode,
		PickupLocation: fields.PickupLocation,
		Status:         models.PackageStatusPending,
		AddedTime:      addedAt,
	}

	err := s.db.QueryRow(ctx, `
INSERT INTO packages (tracking_id, pickup_code, pickup_location, status, added_time)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, p.TrackingID, p.PickupCode, p.PickupLocation, p.Status, p.AddedTime).Scan(&p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "insert package")
	}
	return p, nil
}

func (s *Storage) ListPendingPackages(ctx context.Context) ([]*models.Package, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, tracking_id, pickup_code, pickup_location, status, added_time
FROM packages
WHERE status = $1
ORDER BY added_time DESC, id DESC
`, models.PackageStatusPending)
	if err != nil {
		return nil, errors.Wrap(err, "select pending packages")
	}
	defer rows.Close()

	out := make([]*models.Package, 0)
	for rows.Next() {
		var p models.Package
		if err := rows.Scan(
			&p.ID, &p.TrackingID, &p.PickupCode, &p.PickupLocation,
			&p.Status, &p.AddedTime,
		); err != nil {
			return nil, errors.Wrap(err, "scan package")
		}
		p.AddedTime = p.AddedTime.Local()
		out = append(out, &p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// MarkCollected переводит PENDING -> COLLECTED. Повторный вызов ничего не находит и возвращает false.
func (s *Storage) MarkCollected(ctx context.Context, id uint64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE packages
SET status = $2
WHERE id = $1 AND status = $3
`, id, models.PackageStatusCollected, models.PackageStatusPending)
	if err != nil {
		return false, errors.Wrap(err, "mark package collected")
	}
	return tag.RowsAffected() > 0, nil
}
