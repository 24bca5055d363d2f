package ports

import (
	"context"

	"github.com/atvirokodosprendimai/modelobserver/observer"
)

// ReportPublisher delivers the ledger reports of one observation scope.
type ReportPublisher interface {
	Publish(ctx context.Context, scopeID string, reports []observer.Report) error
}
