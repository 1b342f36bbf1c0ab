// Package objectstore archives full auction snapshots as JSON blobs in a
// cloud object store, one object per auction. Unlike the relational store,
// which keeps just enough of an auction to reconstruct its identity and
// outcome, the archive preserves the exact set of orders and prices a
// driver was asked to solve — useful for replaying a competition round or
// investigating a disputed settlement after the fact.
package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/shoalfin/auctioncore/pkg/types"
)

// Archive writes auction snapshots to a GCS bucket.
type Archive struct {
	client *storage.Client
	bucket string
}

// Open creates an Archive backed by the given bucket, using application
// default credentials.
func Open(ctx context.Context, bucket string) (*Archive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Archive{client: client, bucket: bucket}, nil
}

// Close releases the underlying client.
func (a *Archive) Close() error { return a.client.Close() }

func objectName(auctionID uint64) string {
	return fmt.Sprintf("auctions/%d.json", auctionID)
}

// SaveAuction archives the full auction snapshot. The write is atomic from
// a reader's perspective: GCS only exposes an object once its upload
// completes, so a concurrent reader never observes a partial write.
func (a *Archive) SaveAuction(ctx context.Context, auction types.Auction) error {
	data, err := json.Marshal(auction)
	if err != nil {
		return fmt.Errorf("marshal auction: %w", err)
	}

	w := a.client.Bucket(a.bucket).Object(objectName(auction.ID)).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write auction object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close auction object: %w", err)
	}
	return nil
}

// LoadAuction retrieves a previously archived auction snapshot.
func (a *Archive) LoadAuction(ctx context.Context, auctionID uint64) (types.Auction, error) {
	r, err := a.client.Bucket(a.bucket).Object(objectName(auctionID)).NewReader(ctx)
	if err != nil {
		return types.Auction{}, fmt.Errorf("open auction object: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return types.Auction{}, fmt.Errorf("read auction object: %w", err)
	}

	var auction types.Auction
	if err := json.Unmarshal(data, &auction); err != nil {
		return types.Auction{}, fmt.Errorf("unmarshal auction: %w", err)
	}
	return auction, nil
}
