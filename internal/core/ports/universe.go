package ports

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
)

// Universe is the read-only snapshot of all candidate package records the
// resolver may choose from. Implementations fetch once and answer many
// queries against the same immutable data, so a solve is deterministic
// given the same snapshot.
//
//go:generate go run go.uber.org/mock/mockgen -source=universe.go -destination=mocks/mock_universe.go -package=mocks
type Universe interface {
	// Query returns every known candidate record for a package name in
	// the given channels and platform, in no particular order. Records
	// from the noarch pseudo-platform are included. An unknown name
	// yields an empty slice, not an error.
	Query(ctx context.Context, channels []domain.Channel, platform domain.Platform, eco domain.Ecosystem, name string) ([]*domain.PackageRecord, error)
}
