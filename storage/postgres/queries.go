package postgres

const (
	insertCommit = `
		INSERT INTO commits (pool, batch_id, ref, records, fee, status, error, created_at)
			VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8)`

	insertDispute = `
		INSERT INTO disputes (pool, action_ref, transaction_ref, height, raised_at)
			VALUES ($1, $2, $3, $4, $5)`

	upsertWindow = `
		INSERT INTO windows (pool, last_observed, updated_at)
			VALUES ($1, $2, now())
		ON CONFLICT (pool) DO UPDATE
			SET last_observed = GREATEST(windows.last_observed, excluded.last_observed),
				updated_at = excluded.updated_at`

	selectWindow = `
		SELECT last_observed FROM windows WHERE pool = $1`
)
