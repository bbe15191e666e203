package walletdb

var (
	allocationTable = `CREATE TABLE IF NOT EXISTS allocation (
		id INT PRIMARY KEY NOT NULL CHECK (id = 0),
		goodToBeUsedIndex INT NOT NULL,
		discoveryIndex INT NOT NULL,
		CONSTRAINT chk_goodToBeUsedIndex CHECK (goodToBeUsedIndex >= 0),
		CONSTRAINT chk_discoveryIndex CHECK (discoveryIndex >= 0)
	);`

	lastInputTable = `CREATE TABLE IF NOT EXISTS address_last_input (
		pathIndex INT PRIMARY KEY NOT NULL,
		lastInputAt BIGINT NOT NULL,
		CONSTRAINT chk_pathIndex CHECK (pathIndex > 0),
		CONSTRAINT chk_lastInputAt CHECK (lastInputAt > 0)
	);`

	queryInsertAllocation = `INSERT OR IGNORE INTO allocation (
		id, goodToBeUsedIndex, discoveryIndex) VALUES (0, ?, ?);`
	queryGetAllocation = `SELECT goodToBeUsedIndex, discoveryIndex
		FROM allocation WHERE id = 0;`
	querySetGoodToBeUsedIndex = `UPDATE allocation SET goodToBeUsedIndex = ? WHERE id = 0;`
	querySetDiscoveryIndex    = `UPDATE allocation SET discoveryIndex = ? WHERE id = 0;`

	queryUpsertLastInput = `INSERT INTO address_last_input (pathIndex, lastInputAt)
		VALUES (?, ?)
		ON CONFLICT(pathIndex) DO UPDATE SET lastInputAt = excluded.lastInputAt;`
	queryGetLastInput = `SELECT lastInputAt FROM address_last_input WHERE pathIndex = ?;`
	queryLowestStale  = `SELECT pathIndex FROM address_last_input
		WHERE lastInputAt < ? ORDER BY pathIndex ASC LIMIT 1;`
	queryDeleteLastInput = `DELETE FROM address_last_input WHERE pathIndex = ?;`
)
