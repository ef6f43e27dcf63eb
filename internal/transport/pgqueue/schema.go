package pgqueue

// Schema statements, applied in order by EnsureSchema.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS coordinator_queues (
		name       TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS coordinator_queue_messages (
		id           BIGSERIAL PRIMARY KEY,
		queue        TEXT NOT NULL REFERENCES coordinator_queues (name) ON DELETE CASCADE,
		content_type TEXT NOT NULL,
		body         BYTEA NOT NULL,
		enqueued_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS coordinator_queue_messages_queue_id_idx
		ON coordinator_queue_messages (queue, id)`,
}

const (
	createQueueSQL = `
		INSERT INTO coordinator_queues (name)
		VALUES ($1)
		ON CONFLICT (name) DO NOTHING
	`

	enqueueSQL = `
		INSERT INTO coordinator_queue_messages (queue, content_type, body)
		VALUES ($1, $2, $3)
	`

	receiveSQL = `
		DELETE FROM coordinator_queue_messages
		WHERE id = (
			SELECT id FROM coordinator_queue_messages
			WHERE queue = $1
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING content_type, body
	`

	drainSQL = `
		DELETE FROM coordinator_queue_messages
		WHERE queue = $1
	`
)
