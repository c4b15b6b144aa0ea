// Package core contains the debounce pipeline's domain types, substrate
// contracts, configuration and the ingest/read service. Store, transport and
// worker packages depend on this package; core must not depend on them.
package core
