package mysql

const getPropertySQL = `
SELECT id, name, city, base_price_ngn
FROM properties
WHERE id = ?
`

const upsertPropertySQL = `
INSERT INTO properties (id, name, city, base_price_ngn)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  name           = VALUES(name),
  city           = VALUES(city),
  base_price_ngn = VALUES(base_price_ngn)
`

const getDiscountsSQL = `
SELECT default_rate, overrides, version, updated_at
FROM discount_config
WHERE id = 1
`

// Compare-and-set on version: zero affected rows means another writer won.
const updateDiscountsSQL = `
UPDATE discount_config
SET default_rate = ?, overrides = ?, version = version + 1, updated_at = ?
WHERE id = 1 AND version = ?
`

const insertIntentSQL = `
INSERT INTO payment_intents
  (reference, provider, amount_ngn, currency, email, property_id, status, paid_at, raw, created_at, updated_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)
`

const intentColumns = `reference, provider, amount_ngn, currency, email, property_id, status, paid_at, raw, created_at, updated_at`

const getIntentSQL = `SELECT ` + intentColumns + ` FROM payment_intents WHERE reference = ?`

// The status predicate makes the update a row-level compare-and-set, so a
// webhook and a verify racing on one reference cannot both transition it.
// COALESCE keeps an existing paid_at when none is supplied.
const casIntentStatusSQL = `
UPDATE payment_intents
SET status = ?, paid_at = COALESCE(?, paid_at), raw = ?, updated_at = ?
WHERE reference = ? AND status = ?
`

const listStaleSQL = `SELECT ` + intentColumns + `
FROM payment_intents
WHERE status = 'INITIATED' AND created_at < ?
ORDER BY created_at ASC
LIMIT ?
`

const insertEventSQL = `
INSERT INTO payment_events (id, reference, source, from_status, to_status, outcome, raw, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

const listEventsSQL = `
SELECT id, reference, source, from_status, to_status, outcome, raw, created_at
FROM payment_events
WHERE reference = ?
ORDER BY created_at ASC, id ASC
`

const getUserSQL = `SELECT email, password_hash, activated_at, created_at FROM users WHERE email = ?`

// Activation creates the account on first confirmation and never moves activated_at.
const activateUserSQL = `
INSERT INTO users (email, activated_at, created_at)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE activated_at = COALESCE(activated_at, VALUES(activated_at))
`

const setPasswordSQL = `UPDATE users SET password_hash = ? WHERE email = ?`
