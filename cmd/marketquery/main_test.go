package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketscanner/internal/domain"
	"github.com/alanyoungcy/marketscanner/internal/store/jsonstore"
	"github.com/alanyoungcy/marketscanner/internal/store/storetest"
)

func seeded(t *testing.T) domain.Store {
	t.Helper()
	clock := storetest.NewClock(storetest.T0)
	s := jsonstore.New(t.TempDir(), jsonstore.WithClock(clock.Now))
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))

	m := storetest.Market("0xa", `["0.25","0.75"]`)
	require.NoError(t, s.SaveMarket(ctx, m))
	require.NoError(t, s.SaveEvent(ctx, storetest.Event(domain.EventNewMarket, m, clock.Now())))
	require.NoError(t, s.SavePriceHistory(ctx, "0xa", m.OutcomePrices, m.Volume))
	clock.Advance(time.Minute)
	return s
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSummary(context.Background(), &buf, seeded(t), "json", 10))

	out := buf.String()
	assert.Contains(t, out, "markets: 1")
	assert.Contains(t, out, "events:  1")
	assert.Regexp(t, `NewMarket\s+1`, out)
	assert.Regexp(t, `VolumeUpdate\s+0`, out)
	assert.Contains(t, out, "Will 0xa happen?")
}

func TestPrintMarket(t *testing.T) {
	store := seeded(t)

	var buf bytes.Buffer
	require.NoError(t, printMarket(context.Background(), &buf, store, "0xa", 5))
	out := buf.String()
	assert.Contains(t, out, "Yes: 0.25")
	assert.Contains(t, out, "No: 0.75")
	assert.Contains(t, out, `["0.25","0.75"]`)

	err := printMarket(context.Background(), &buf, store, "0xmissing", 5)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate(" short ", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
