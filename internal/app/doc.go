// Package app composes the raffle service: it deploys the raffle for the
// configured network and wires the ledger, event log, keeper, history store
// and optional Redis fan-out around it.
//
// # Dependency Direction
//
//	cmd/raffled/
//	      │
//	      ▼
//	internal/app/ (composition) ──► internal/app/httpapi/
//	      │
//	      ├──► internal/deploy/ ──► internal/raffle/, internal/vrf/
//	      ├──► internal/automation/
//	      ├──► internal/storage/ ──► internal/platform/migrations/
//	      └──► internal/ledger/, internal/events/
package app
