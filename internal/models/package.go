package models

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

const (
	PackageStatusPending   = "PENDING"
	PackageStatusCollected = "COLLECTED"
)

// Старые резервные копии хранили статусы на китайском.
var legacyStatuses = map[string]string{
	"待领取": PackageStatusPending,
	"已领取": PackageStatusCollected,
}

// AddedTimeLayout is the wire format of Package.AddedTime (second precision, local time).
const AddedTimeLayout = "2006-01-02 15:04:05"

// ExtractedFields holds whatever the extractor managed to pull out of a message.
// An empty string means the field was not found.
type ExtractedFields struct {
	TrackingID     string `json:"tracking_id,omitempty"`
	PickupCode     string `json:"pickup_code,omitempty"`
	PickupLocation string `json:"pickup_location,omitempty"`
}

func (f ExtractedFields) Empty() bool {
	return f.TrackingID == "" && f.PickupCode == "" && f.PickupLocation == ""
}

// Count returns the number of non-empty fields.
func (f ExtractedFields) Count() int {
	n := 0
	for _, v := range []string{f.TrackingID, f.PickupCode, f.PickupLocation} {
		if v != "" {
			n++
		}
	}
	return n
}

type Package struct {
	ID             uint64
	TrackingID     string
	PickupCode     string
	PickupLocation string
	Status         string
	AddedTime      time.Time
}

func (p *Package) Pending() bool {
	return p.Status == PackageStatusPending
}

func (p *Package) Fields() ExtractedFields {
	return ExtractedFields{
		TrackingID:     p.TrackingID,
		PickupCode:     p.PickupCode,
		PickupLocation: p.PickupLocation,
	}
}

type packageJSON struct {
	ID             uint64 `json:"id"`
	TrackingID     string `json:"tracking_id"`
	PickupCode     string `json:"pickup_code"`
	PickupLocation string `json:"pickup_location"`
	Status         string `json:"status"`
	AddedTime      string `json:"added_time"`
}

func (p Package) MarshalJSON() ([]byte, error) {
	return json.Marshal(packageJSON{
		ID:             p.ID,
		TrackingID:     p.TrackingID,
		PickupCode:     p.PickupCode,
		PickupLocation: p.PickupLocation,
		Status:         p.Status,
		AddedTime:      p.AddedTime.Format(AddedTimeLayout),
	})
}

func (p *Package) UnmarshalJSON(b []byte) error {
	var raw packageJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	// статус не указан: запись считается ожидающей
	status := PackageStatusPending
	if raw.Status != "" {
		var err error
		if status, err = NormalizeStatus(raw.Status); err != nil {
			return err
		}
	}
	addedAt, err := time.ParseInLocation(AddedTimeLayout, raw.AddedTime, time.Local)
	if err != nil {
		return errors.Wrapf(err, "package %d: added_time", raw.ID)
	}

	*p = Package{
		ID:             raw.ID,
		TrackingID:     raw.TrackingID,
		PickupCode:     raw.PickupCode,
		PickupLocation: raw.PickupLocation,
		Status:         status,
		AddedTime:      addedAt,
	}
	return nil
}

// NormalizeStatus maps a stored status label to PENDING/COLLECTED.
func NormalizeStatus(s string) (string, error) {
	switch s {
	case PackageStatusPending, PackageStatusCollected:
		return s, nil
	}
	if norm, ok := legacyStatuses[s]; ok {
		return norm, nil
	}
	return "", errors.Errorf("unknown package status %q", s)
}
