// Package changedetect implements the change detector: it
// fingerprints an incoming listing observation against the stored current
// record and emits field-level diffs for anything that moved, while
// tracking a consecutive-unchanged count for listings that keep matching.
package changedetect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harvestnet/harvestor/internal/core/domain"
)

// ListingReader is the narrow read surface changedetect needs; any
// ports.ListingStore satisfies it.
type ListingReader interface {
	GetListing(ctx context.Context, site, externalID string) (*domain.Listing, error)
}

// Detector is the default ports.ChangeDetector.
type Detector struct {
	store ListingReader
}

// New builds a Detector backed by store.
func New(store ListingReader) *Detector {
	return &Detector{store: store}
}

// Detect compares incoming against the stored current record for
// (incoming.Site, incoming.ExternalID). It mutates incoming in place to
// carry forward FirstSeenAt, the recomputed ContentFingerprint and the
// consecutive-unchanged counter, and returns the field-level diffs to
// persist. A nil, nil result means either a first observation (nothing to
// diff against) or an unchanged fingerprint.
func (d *Detector) Detect(ctx context.Context, incoming *domain.Listing) ([]domain.ListingChange, error) {
	current, err := d.store.GetListing(ctx, incoming.Site, incoming.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("changedetect: load current listing: %w", err)
	}

	newFingerprint := Fingerprint(incoming)

	if current == nil {
		incoming.ContentFingerprint = newFingerprint
		incoming.ConsecutiveUnseen = 0
		return nil, nil
	}

	incoming.FirstSeenAt = current.FirstSeenAt

	if newFingerprint == current.ContentFingerprint {
		incoming.ContentFingerprint = newFingerprint
		incoming.ConsecutiveUnseen = current.ConsecutiveUnseen + 1
		return nil, nil
	}

	incoming.ContentFingerprint = newFingerprint
	incoming.ConsecutiveUnseen = 0

	return diffFields(current, incoming), nil
}

// Fingerprint computes a stable hash over the tracked field set, excluding
// the volatile fields named in the domain invariant (last-seen timestamps,
// the fingerprint itself, the unchanged counter).
func Fingerprint(l *domain.Listing) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%.6f\x00%s\x00%.6f\x00%.6f\x00%s\x00%s\x00%s",
		l.Site, l.ExternalID, l.URL, l.Title, l.Price, l.Currency, l.Area, l.Rooms, l.Location,
		strings.Join(l.Features, "\x1f"), l.Description)
	return hex.EncodeToString(h.Sum(nil))
}

func diffFields(oldL, newL *domain.Listing) []domain.ListingChange {
	now := time.Now()
	var changes []domain.ListingChange

	record := func(field, oldVal, newVal string) {
		if oldVal == newVal {
			return
		}
		changes = append(changes, domain.ListingChange{
			Site:       newL.Site,
			ExternalID: newL.ExternalID,
			Field:      field,
			OldValue:   oldVal,
			NewValue:   newVal,
			ObservedAt: now,
		})
	}

	record("title", oldL.Title, newL.Title)
	record("price", formatFloat(oldL.Price), formatFloat(newL.Price))
	record("currency", oldL.Currency, newL.Currency)
	record("area", formatFloat(oldL.Area), formatFloat(newL.Area))
	record("rooms", formatFloat(oldL.Rooms), formatFloat(newL.Rooms))
	record("location", oldL.Location, newL.Location)
	record("description", oldL.Description, newL.Description)
	record("url", oldL.URL, newL.URL)
	record("features", strings.Join(oldL.Features, ", "), strings.Join(newL.Features, ", "))

	return changes
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
