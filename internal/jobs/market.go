package jobs

import "context"

// MarketChecker defines the interface for checking market status.
// This allows the jobs package to check market timing without directly
// depending on the market package.
type MarketChecker interface {
	// EnsureFresh refreshes the cached market snapshot if it is stale.
	EnsureFresh(ctx context.Context) error

	// IsAnyMarketOpen returns true if any market is currently open.
	IsAnyMarketOpen() bool

	// IsSecurityMarketOpen returns true if the market for a specific security is open.
	IsSecurityMarketOpen(symbol string) bool

	// AreAllMarketsClosed returns true if all markets are closed.
	// This is used for maintenance jobs that should only run during maintenance windows.
	AreAllMarketsClosed() bool
}

// CanExecute returns true if a job can execute given its market timing constraint.
func CanExecute(market MarketChecker, timing MarketTiming, subject string) bool {
	switch timing {
	case AnyTime:
		return true

	case AfterMarketClose:
		if subject == "" {
			// Global job: wait for all markets to close
			return !market.IsAnyMarketOpen()
		}
		return !market.IsSecurityMarketOpen(subject)

	case DuringMarketOpen:
		if subject == "" {
			return market.IsAnyMarketOpen()
		}
		return market.IsSecurityMarketOpen(subject)

	case AllMarketsClosed:
		// Always a global check
		return market.AreAllMarketsClosed()

	default:
		// Unknown timing - be safe and don't execute
		return false
	}
}
