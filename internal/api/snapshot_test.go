package api

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalfin/auctioncore/internal/config"
	"github.com/shoalfin/auctioncore/internal/runloop"
	"github.com/shoalfin/auctioncore/pkg/types"
)

type fakePhaseSource struct{ phase runloop.Phase }

func (f fakePhaseSource) Phase() runloop.Phase { return f.phase }

func TestBuildSnapshotWithNoResultYet(t *testing.T) {
	t.Parallel()

	pub := NewPublisher(fakePhaseSource{phase: runloop.PhaseIdle}, nil)
	snapshot := BuildSnapshot(pub, config.Config{})

	assert.Equal(t, string(runloop.PhaseIdle), snapshot.Phase)
	assert.Nil(t, snapshot.LastResult)
}

func TestPublisherRecordsLatestResult(t *testing.T) {
	t.Parallel()

	pub := NewPublisher(fakePhaseSource{phase: runloop.PhaseObserving}, NewHub(slog.Default()))
	result := types.CompetitionResult{AuctionID: 42, Block: 100, Timestamp: time.Now()}

	pub.Publish(result)

	got, ok := pub.LatestResult()
	require.True(t, ok)
	assert.Equal(t, uint64(42), got.AuctionID)

	snapshot := BuildSnapshot(pub, config.Config{})
	require.NotNil(t, snapshot.LastResult)
	assert.Equal(t, uint64(42), snapshot.LastResult.AuctionID)
}
