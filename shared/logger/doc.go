// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package logger provides structured JSON logging for sqlgate components.

Each log entry is written to stdout as single-line JSON with a timestamp,
level, component name, instance ID, request ID (for request correlation),
and optional custom fields, making logs directly consumable by log
aggregation systems.

Create a logger for your component:

	log := logger.New("gate")

Log messages with request context:

	log.Info("req-456", "request completed", map[string]interface{}{
	    "mode":      "preview",
	    "row_count": 42,
	})

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
