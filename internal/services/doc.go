// Package services defines shared utilities consumed by the acquisition
// pipeline and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp catalog item IDs, provider names, scheduler
//     jobs, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so transport, adapter, and
//     provider failures can be classified with errors.Is.
//
// Use these helpers when wiring new adapters or providers so failure handling
// and observability stay uniform across the pipeline.
package services
