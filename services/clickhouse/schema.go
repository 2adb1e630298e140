package clickhouse

// DDL for the simulation output tables. ReplacingMergeTree on version
// makes re-inserting a run idempotent: the newest version of a
// (run_id, group, seq) row wins.

const recordsDDL = `
	CREATE TABLE IF NOT EXISTS %s.%s (
		run_id String,
		group_id Int32,
		asset Int32,
		symbol LowCardinality(String),
		bar Int32,
		ts_ms UInt64,
		seq Int64,
		side LowCardinality(String),
		size Float64,
		price Float64,
		fees Float64,
		kind LowCardinality(String),
		stop_kind LowCardinality(String),
		inserted_at DateTime64(3),
		version UInt64
	)
	ENGINE = ReplacingMergeTree(version)
	ORDER BY (run_id, group_id, seq)
	SETTINGS index_granularity = 8192
`

const logsDDL = `
	CREATE TABLE IF NOT EXISTS %s.%s (
		run_id String,
		group_id Int32,
		asset Int32,
		bar Int32,
		kind LowCardinality(String),
		status LowCardinality(String),
		reason String,
		inserted_at DateTime64(3)
	)
	ENGINE = MergeTree
	ORDER BY (run_id, group_id, bar)
	SETTINGS index_granularity = 8192
`
