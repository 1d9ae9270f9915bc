package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/goran-ethernal/ChainRewind/internal/common"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/pkg/model"
)

const (
	// DefaultCacheCapacity is the number of entities kept per cached entity type.
	DefaultCacheCapacity = 1 << 16
	// LowMemoryCacheCapacity caps every cache when low memory mode is enabled.
	LowMemoryCacheCapacity = 1 << 8
)

// Config represents the complete configuration of the persistence core.
type Config struct {
	// Database contains the SQLite configuration for the materialized store
	Database DatabaseConfig `yaml:"database" json:"database" toml:"database"`

	// Versioning contains change log settings
	Versioning VersioningConfig `yaml:"versioning" json:"versioning" toml:"versioning"`

	// Cache contains entity cache settings
	Cache CacheConfig `yaml:"cache" json:"cache" toml:"cache"`

	// Reindexing maps a reindexing reason to the action that should be taken
	// Reasons: manual, migration, rollback, config_modified, schema_modified
	// Actions: raise, wipe_and_restart, ignore
	Reindexing map[string]string `yaml:"reindexing,omitempty" json:"reindexing,omitempty" toml:"reindexing,omitempty"`

	// Maintenance contains optional database maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("path is required")
	}

	if d.JournalMode != "" &&
		!slices.Contains([]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
		return fmt.Errorf("journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if d.Synchronous != "" && !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
		return fmt.Errorf("synchronous must be one of: FULL, NORMAL, OFF")
	}

	return nil
}

// DefaultSchemaName names the materialized schema when none is configured.
const DefaultSchemaName = "public"

// VersioningConfig configures change tracking.
type VersioningConfig struct {
	// Schema is the name the materialized schema state is stored under
	Schema string `yaml:"schema" json:"schema" toml:"schema"`

	// ImmuneTypes lists entity types excluded from change tracking and reverts
	ImmuneTypes []string `yaml:"immune_types,omitempty" json:"immune_types,omitempty" toml:"immune_types,omitempty"`

	// MaxRollbackDepth is the deepest rollback (in levels) handled by reverting the change log.
	// Deeper rollbacks are treated as a reindexing reason. 0 means unlimited.
	MaxRollbackDepth uint64 `yaml:"max_rollback_depth" json:"max_rollback_depth" toml:"max_rollback_depth"`

	// PruneDepth is the number of levels of change log kept behind each index level.
	// Older entries are dropped during maintenance. 0 disables pruning.
	PruneDepth uint64 `yaml:"prune_depth" json:"prune_depth" toml:"prune_depth"`
}

// ImmuneSet returns the immune types as a set.
func (v VersioningConfig) ImmuneSet() map[string]struct{} {
	set := make(map[string]struct{}, len(v.ImmuneTypes))
	for _, t := range v.ImmuneTypes {
		set[t] = struct{}{}
	}
	return set
}

// CacheConfig configures the per entity type LRU caches.
type CacheConfig struct {
	// DefaultCapacity is the capacity used for types without an override
	DefaultCapacity int `yaml:"default_capacity" json:"default_capacity" toml:"default_capacity"`

	// LowMemory caps every cache at 256 entries
	LowMemory bool `yaml:"low_memory" json:"low_memory" toml:"low_memory"`

	// Capacities overrides the capacity per entity type
	Capacities map[string]int `yaml:"capacities,omitempty" json:"capacities,omitempty" toml:"capacities,omitempty"`
}

// ApplyDefaults sets default values for optional cache configuration fields.
func (c *CacheConfig) ApplyDefaults() {
	if c.DefaultCapacity == 0 {
		c.DefaultCapacity = DefaultCacheCapacity
	}
}

// Validate checks if the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	if c.DefaultCapacity < 0 {
		return fmt.Errorf("default_capacity must not be negative")
	}

	for entityType, capacity := range c.Capacities {
		if capacity <= 0 {
			return fmt.Errorf("capacities[%s]: must be positive", entityType)
		}
	}

	return nil
}

// CapacityFor returns the effective capacity of the cache for the given entity type.
func (c *CacheConfig) CapacityFor(entityType string) int {
	capacity := c.DefaultCapacity
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if override, ok := c.Capacities[entityType]; ok && override > 0 {
		capacity = override
	}
	if c.LowMemory {
		capacity = min(capacity, LowMemoryCacheCapacity)
	}

	return capacity
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}

	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - scope-manager: Versioned transaction scopes
	//   - change-log: Change log recording and storage
	//   - revert-engine: Change log reverts
	//   - repository: Entity mutations
	//   - cache: Entity caches
	//   - metadata: Index, head, contract and schema state
	//   - rollback: Multi index rollback handling
	//   - maintenance: Database maintenance
	//   - metrics: Metrics server
	//   - processor: Example entity processors
	//   - cli: Operator commands
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if l == nil {
		return "info"
	}
	if level, ok := l.ComponentLevels[component]; ok {
		return common.ToLowerWithTrim(level)
	}
	return l.GetDefaultLevel()
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	if l == nil || l.DefaultLevel == "" {
		return "info"
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l != nil && l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Database.ApplyDefaults()
	c.Cache.ApplyDefaults()

	if c.Versioning.Schema == "" {
		c.Versioning.Schema = DefaultSchemaName
	}

	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database.%w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache.%w", err)
	}

	for i, immune := range c.Versioning.ImmuneTypes {
		if immune == "" {
			return fmt.Errorf("versioning.immune_types[%d]: must not be empty", i)
		}
	}

	if _, err := c.ReindexingPolicy(); err != nil {
		return fmt.Errorf("reindexing: %w", err)
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return fmt.Errorf("maintenance.%w", err)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// ReindexingPolicy converts the configured reason to action mapping into a policy.
func (c *Config) ReindexingPolicy() (model.ReindexingPolicy, error) {
	return model.ParseReindexingPolicy(c.Reindexing)
}
