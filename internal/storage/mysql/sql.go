package mysql

// reply_records carries a generated terminal_key column: non-NULL only
// for succeeded/skipped rows, with a unique index over it. That enforces
// at-most-one terminal record per review at the database level, and the
// no-op ON DUPLICATE clause makes a repeated terminal insert idempotent
// (a crash between posting and recording is safe to replay).
const insertRecordSQL = `
INSERT INTO reply_records
  (review_id, reply_text, outcome, fail_reason)
VALUES
  (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  review_id = review_id
`

const isHandledSQL = `
SELECT 1 FROM reply_records
WHERE review_id = ? AND outcome IN ('succeeded','skipped')
LIMIT 1
`

const listRepliesSQL = `
SELECT id, review_id, reply_text, outcome, fail_reason, created_at
FROM reply_records
ORDER BY created_at DESC, id DESC
LIMIT ?
`

const insertCycleSQL = `
INSERT INTO cycle_runs
  (started_at, finished_at, fetched, replied, adopted, failed, skipped, aborted, abort_error, failures)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const latestCycleSQL = `
SELECT started_at, finished_at, fetched, replied, adopted, failed, skipped, aborted, abort_error, failures
FROM cycle_runs
ORDER BY id DESC
LIMIT 1
`
