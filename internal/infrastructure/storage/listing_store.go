package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/ports"
)

// ListingStore writes each protocol's full listing to dataDir/listings/<file>.
type ListingStore struct {
	dir string
}

var _ ports.ListingStore = (*ListingStore)(nil)

// NewListingStore roots listing files under dataDir/listings.
func NewListingStore(dataDir string) *ListingStore {
	return &ListingStore{dir: filepath.Join(dataDir, "listings")}
}

// SaveListing atomically overwrites the protocol's listing file.
func (s *ListingStore) SaveListing(ctx context.Context, listing domain.Listing) error {
	if !listing.Protocol.Known() {
		return &domain.UnknownProtocolError{Protocol: string(listing.Protocol)}
	}
	return writeJSONAtomic(s.path(listing.Protocol), listing)
}

// LoadListing reads the last written listing for protocol.
func (s *ListingStore) LoadListing(ctx context.Context, protocol domain.Protocol) (domain.Listing, error) {
	var listing domain.Listing
	found, err := readJSON(s.path(protocol), &listing)
	if err != nil {
		return domain.Listing{}, err
	}
	if !found {
		return domain.Listing{}, fmt.Errorf("no listing stored for %s", protocol)
	}
	return listing, nil
}

func (s *ListingStore) path(protocol domain.Protocol) string {
	return filepath.Join(s.dir, protocol.ListingFile())
}
