// Package broker implements the in-process publish/subscribe message broker
// that connects agent runtimes.
//
// A Broker owns agent registration, topic based routing, the link activity
// graph used for visualization and aggregate token counters. Each agent
// subscribes to a topic set made of its own id, its connections, its display
// name and role, and any explicit aliases. A message's To field is resolved
// as a topic and may reach zero, one or many agents.
//
// Observers (dashboards, the CLI) attach with Subscribe and receive a fan-out
// stream of message, agent-state, graph and token-usage events. Delivery to
// observers is at-most-once: a full observer buffer drops the event.
package broker
