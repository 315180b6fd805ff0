package attune

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	logger      *slog.Logger
	version     string
	driver      string
	databaseURL string
	notifyURL   string
	sqlitePath  string
	seedFile    string
	hooks       []LearningHook
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithDriver overrides the storage driver from config (ATTUNE_DRIVER env
// var): "postgres" or "sqlite".
func WithDriver(driver string) Option {
	return func(o *resolvedOptions) { o.driver = driver }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for LISTEN/NOTIFY (NOTIFY_URL env var).
// Set this when using a connection pooler (e.g. PgBouncer) for queries:
// LISTEN/NOTIFY requires a direct (non-pooled) connection.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithSQLitePath overrides the SQLite database path from config
// (ATTUNE_SQLITE_PATH env var). Only used when the driver is "sqlite".
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithSeedFile sets a YAML seed file applied during New(), overriding
// ATTUNE_SEED_FILE. Seed imports are idempotent.
func WithSeedFile(path string) Option {
	return func(o *resolvedOptions) { o.seedFile = path }
}

// WithLearningHook registers a hook called after each committed learning
// step. Multiple hooks may be registered; all receive every step.
func WithLearningHook(hook LearningHook) Option {
	return func(o *resolvedOptions) { o.hooks = append(o.hooks, hook) }
}
