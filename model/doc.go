// Package model defines the provider agnostic abstractions for text
// generation backends used by atlasforge.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Carry a routing Intent with every request so the router can pick a backend
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI compatible local servers, Anthropic) implement the Model
// interface so higher layers (router, agents, orchestrator) remain decoupled
// from vendor SDKs.
package model
