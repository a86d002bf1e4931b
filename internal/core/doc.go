// Package core defines the domain types shared by every component of the
// job engine: jobs and their lifecycle, the store contract, retry policies,
// the handler contract, circuit breaker state, and the error taxonomy.
package core

// EngineVersion is reported by the health endpoint and the build info metric.
const EngineVersion = "0.4.0"
