package jsonstore

import (
	"context"
	"fmt"
	"maps"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// SaveEvent appends the event, drops the oldest beyond the cap and flushes
// events.json before returning.
func (s *Store) SaveEvent(ctx context.Context, e domain.MarketEvent) error {
	m := e.Market.Canonical()
	entry := eventEntry{
		ID:            e.ID,
		ConditionID:   m.ConditionID,
		Kind:          e.Kind,
		Question:      m.Question,
		OutcomePrices: m.PricesString(),
		Volume:        m.VolumeString(),
		Timestamp:     e.Timestamp.UTC(),
	}

	s.eventsMu.Lock()
	s.events = append(s.events, entry)
	if over := len(s.events) - domain.MaxRecentEvents; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
	s.total++
	s.stats[string(e.Kind)]++
	s.eventsMu.Unlock()

	if err := s.flushEvents(); err != nil {
		return domain.StorageError(fmt.Sprintf("jsonstore: save event %s for %s", e.Kind, m.ConditionID), err)
	}
	return nil
}

func (s *Store) flushEvents() error {
	s.eventsFileMu.Lock()
	defer s.eventsFileMu.Unlock()

	s.eventsMu.RLock()
	doc := eventsDoc{
		Events: append([]eventEntry(nil), s.events...),
		Total:  s.total,
		Stats:  maps.Clone(s.stats),
	}
	s.eventsMu.RUnlock()

	return writeJSONAtomic(s.dir, eventsFile, doc)
}

// SavePriceHistory appends an in-memory price point, keeping the newest
// domain.MaxPriceHistory per market.
func (s *Store) SavePriceHistory(_ context.Context, conditionID string, outcomePrices, volume *string) error {
	p := domain.PricePoint{
		OutcomePrices: domain.NormalizePrices(domain.Deref(outcomePrices)),
		Volume:        domain.NormalizeDecimal(domain.Deref(volume)),
		Timestamp:     s.now().UTC(),
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	h := append(s.history[conditionID], p)
	if over := len(h) - domain.MaxPriceHistory; over > 0 {
		h = append(h[:0:0], h[over:]...)
	}
	s.history[conditionID] = h
	return nil
}

// GetEventCount returns the number of events ever saved, including those
// dropped from events.json by the cap.
func (s *Store) GetEventCount(_ context.Context) (int64, error) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	return s.total, nil
}

// GetPriceHistory returns up to limit price points, newest first.
func (s *Store) GetPriceHistory(_ context.Context, conditionID string, limit int) ([]domain.PricePoint, error) {
	if limit <= 0 {
		return []domain.PricePoint{}, nil
	}
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	h := s.history[conditionID]
	out := make([]domain.PricePoint, 0, min(limit, len(h)))
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

// GetRecentEvents returns up to limit events, newest first.
func (s *Store) GetRecentEvents(_ context.Context, limit int) ([]domain.EventRecord, error) {
	if limit <= 0 {
		return []domain.EventRecord{}, nil
	}
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()

	out := make([]domain.EventRecord, 0, min(limit, len(s.events)))
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.events[i]
		out = append(out, domain.EventRecord{
			Kind:          e.Kind,
			Question:      e.Question,
			OutcomePrices: e.OutcomePrices,
			Timestamp:     e.Timestamp,
		})
	}
	return out, nil
}

// GetEventStats returns per-kind counts plus the Total pseudo-kind.
func (s *Store) GetEventStats(_ context.Context) (map[string]int64, error) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()

	stats := maps.Clone(s.stats)
	var total int64
	for _, n := range s.stats {
		total += n
	}
	stats[domain.StatsTotalKey] = total
	return stats, nil
}
