// Package embedding provides text embedding backends and the vector helpers
// used by the conversation governor.
//
// Backends implement Embedder. OpenAIEmbedder talks to the OpenAI embeddings
// API (or any compatible server via a base URL), HashEmbedder produces
// deterministic pseudo embeddings offline, Fallback chains a primary and a
// secondary backend, and Cache memoises results by trimmed text.
package embedding
