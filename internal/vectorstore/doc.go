// Package vectorstore implements the vector backends that hold collections.
//
// A Store works on precomputed vectors: callers embed text themselves and hand
// the store points to insert or a vector to search with. Two providers exist:
//
//   - chromem: embedded chromem-go database persisted under a directory (default)
//   - qdrant: Qdrant over its native gRPC API
//
// Every store reports cosine similarity scores, higher is closer.
package vectorstore
