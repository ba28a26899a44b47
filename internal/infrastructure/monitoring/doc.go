/*
Package monitoring provides Prometheus metrics for the collaboration server.

# Overview

Metrics live on a private registry owned by Metrics, exposed by Handler.
Tracked: HTTP requests, rooms (active/created/evicted), members, websocket
connections and frames, execution requests by language and outcome.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", monitoring.Handler(metrics))

	metrics.RecordExecution("python", "success", time.Since(start))
*/
package monitoring
