// Package bus is a durable publish/subscribe message bus backed by SQLite.
//
// Topics fan messages out to every attached subscription. Each subscription
// owns one delivery row per message; a subscriber leases a delivery for the
// ack deadline and either acks it or lets it fail. Failed deliveries are
// retried with a linear backoff and dead-lettered after the configured number
// of attempts. Deliveries whose lease expires without an ack are handed out
// again, so handlers must tolerate duplicates.
//
// Publish is asynchronous: it returns a PublishResult immediately and the
// caller joins on Get when it needs the server-assigned message id.
//
// The database holds in-flight traffic only. Schema changes bump
// schemaVersion; operators delete the database to adopt a new schema.
package bus
