// Package message defines the envelope exchanged between agents.
//
// # Overview
//
// A Message is immutable once sent: the sender stamps an id and timestamp,
// the queue persists it, and the receiver gets back an identical copy. The
// wire format is JSON with snake_case fields so that agents written against
// the same contract in other languages interoperate.
//
// # Types and Priorities
//
// Message types are a closed enumeration (task_notification, status_update,
// error_alert, data_request, data_response, config_change, health_check,
// shutdown). Priorities are numeric on the wire: low (1), normal (2),
// high (3), urgent (4). High and urgent messages are additionally routed
// through the per-agent priority list.
//
// # Retries
//
// RetryCount and MaxRetries are advisory bookkeeping for producer-side retry
// policies. Nothing in this module enforces them; a retry is a brand-new
// message with RetryCount incremented by the producer.
package message
