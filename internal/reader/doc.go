// Package reader turns files into documents.
//
// A Registry maps file extensions to Readers. NewDefaultRegistry wires the
// built-in readers: plain text and markdown (chunked), CSV (one document per
// row), pipe-delimited tables (one document per row with a stable identity
// over the key columns) and JSON / JSON Lines (one document per object).
package reader
