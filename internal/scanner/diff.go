package scanner

import "github.com/alanyoungcy/marketscanner/internal/domain"

// Diff returns the kinds of change between the last observation of a market
// and the current one, in emission order. A nil prior means the market has
// never been seen.
func Diff(prior *domain.Market, next domain.Market) []domain.EventKind {
	if prior == nil {
		return []domain.EventKind{domain.EventNewMarket}
	}

	var kinds []domain.EventKind
	if !domain.EqualStrings(prior.OutcomePrices, next.OutcomePrices) {
		kinds = append(kinds, domain.EventPriceChange)
	}
	if !domain.EqualStrings(prior.Volume, next.Volume) {
		kinds = append(kinds, domain.EventVolumeUpdate)
	}
	// Closing is reported once: a market already closed stays silent.
	if next.IsClosed() && !prior.IsClosed() {
		kinds = append(kinds, domain.EventMarketClosed)
	}
	return kinds
}
