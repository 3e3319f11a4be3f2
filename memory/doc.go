// Package memory contains concrete core.MemoryStore implementations: a
// process local InMemoryStore and a durable SQLiteStore backed by the pure Go
// modernc.org/sqlite driver. Depend on core.MemoryStore in your code and
// select an implementation at wiring time.
package memory
