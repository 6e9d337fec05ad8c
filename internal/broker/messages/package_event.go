package messages

import (
	"time"

	"github.com/BearBump/PickupBox/internal/models"
)

const (
	PackageEventAdded     = "package.added"
	PackageEventCollected = "package.collected"
)

type PackageEvent struct {
	Type    string          `json:"type"`
	Package *models.Package `json:"package,omitempty"`
	// ID is set for collected events, where only the id is known.
	ID uint64    `json:"id"`
	At time.Time `json:"at"`
}
