// Package services wires the corpora components from configuration and
// exposes them through a Registry.
//
// Build constructs everything in dependency order: embeddings, vector store,
// collection registry, manager, readers, ingestion, synthesis and query.
// Close releases them in reverse.
package services
