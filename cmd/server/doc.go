// Package main is the entry point for the CodeSphere collaboration server.
//
// The server keeps collaborative editing rooms consistent across connected
// clients and executes submitted snippets in java, python, cpp and
// javascript.
//
// Endpoints:
//   - GET  /ws             event channel (websocket)
//   - POST /execute        run a snippet
//   - GET  /rooms/:id      room status
//   - GET  /rooms          room listing
//   - GET  /languages      toolchain availability
//   - GET  /metrics        Prometheus exposition
//   - GET  /health         liveness
//
// Configuration comes from environment variables, optionally loaded from a
// dotenv file first.
//
// Usage:
//
//	./server -port 3001
//	./server -dev -env local.env
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
