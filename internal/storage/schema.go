package storage

// Times are stored as unix milliseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sync_settings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		keywords TEXT NOT NULL DEFAULT '[]',
		keyword_location TEXT NOT NULL DEFAULT 'title_or_body',
		category TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL,
		window_hours INTEGER NOT NULL DEFAULT 24,
		filtering_enabled INTEGER NOT NULL DEFAULT 0,
		live_mode INTEGER NOT NULL DEFAULT 0,
		use_actual_source INTEGER NOT NULL DEFAULT 0,
		audience TEXT NOT NULL DEFAULT '',
		custom_instruction TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		found INTEGER NOT NULL DEFAULT 0,
		existing INTEGER NOT NULL DEFAULT 0,
		new_items INTEGER NOT NULL DEFAULT 0,
		omitted INTEGER NOT NULL DEFAULT 0,
		last_run_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS source_articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		uri TEXT NOT NULL UNIQUE,
		fingerprint TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		published_at INTEGER NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT '',
		title_words INTEGER NOT NULL DEFAULT 0,
		body_words INTEGER NOT NULL DEFAULT 0,
		sync_setting_id INTEGER NOT NULL,
		flag TEXT NOT NULL DEFAULT 'new',
		body_extracted INTEGER NOT NULL DEFAULT 0,
		routed_at INTEGER NOT NULL DEFAULT 0,
		claimed_by INTEGER NOT NULL DEFAULT 0,
		claimed_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (provider, fingerprint)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_source_articles_setting_flag ON source_articles(sync_setting_id, flag);`,
	`CREATE TABLE IF NOT EXISTS finished_articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guid TEXT NOT NULL UNIQUE,
		source_article_id INTEGER NOT NULL UNIQUE,
		sync_setting_id INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		meta TEXT NOT NULL DEFAULT '',
		social TEXT NOT NULL DEFAULT '{}',
		tags TEXT NOT NULL DEFAULT '[]',
		category TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'pending',
		failure_reason TEXT NOT NULL DEFAULT '',
		delivery_log TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_finished_articles_state ON finished_articles(state);`,
	`CREATE TABLE IF NOT EXISTS sites (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		endpoint TEXT NOT NULL,
		terms_endpoint TEXT NOT NULL DEFAULT '',
		auth_mode TEXT NOT NULL DEFAULT 'none',
		username TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		token TEXT NOT NULL DEFAULT '',
		token_param TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS site_terms (
		site_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (site_id, kind, name)
	);`,
	`CREATE TABLE IF NOT EXISTS site_delivery_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		finished_article_id INTEGER NOT NULL,
		site_id INTEGER NOT NULL,
		remote_id TEXT NOT NULL,
		remote_url TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (finished_article_id, site_id, remote_id)
	);`,
	`CREATE TABLE IF NOT EXISTS response_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		log_group TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id INTEGER NOT NULL DEFAULT 0,
		request TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		cost INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_response_log_source ON response_log(source_type, source_id);`,
	`CREATE INDEX IF NOT EXISTS idx_response_log_group ON response_log(log_group, created_at);`,
	`CREATE TABLE IF NOT EXISTS job_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		available_at INTEGER NOT NULL,
		enqueued_at INTEGER NOT NULL,
		started_at INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_job_queue_status ON job_queue(status, available_at, id);`,
	`CREATE TABLE IF NOT EXISTS dead_letters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		envelope_id INTEGER NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL,
		reason TEXT NOT NULL,
		failed_at INTEGER NOT NULL
	);`,
}

var addedColumns = []struct{ table, column, ddl string }{
	{"source_articles", "routed_at", "INTEGER NOT NULL DEFAULT 0"},
	{"source_articles", "claimed_by", "INTEGER NOT NULL DEFAULT 0"},
	{"source_articles", "claimed_at", "INTEGER NOT NULL DEFAULT 0"},
}
