// Package embeddings turns document and query text into vectors.
//
// Three providers are supported: Ollama and OpenAI-compatible endpoints via
// langchaingo, and FastEmbed for local ONNX models (cgo builds only). Every
// provider returned by NewProvider is wrapped in Limited, which adds rate
// limiting, bounded retries and OpenTelemetry metrics.
package embeddings
