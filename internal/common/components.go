package common

const (
	ComponentScopeManager = "scope-manager"
	ComponentChangeLog    = "change-log"
	ComponentRevertEngine = "revert-engine"
	ComponentRepository   = "repository"
	ComponentCache        = "cache"
	ComponentMetadata     = "metadata"
	ComponentRollback     = "rollback"
	ComponentMaintenance  = "maintenance"
	ComponentMetrics      = "metrics"
	ComponentProcessor    = "processor"
	ComponentCLI          = "cli"
)

var AllComponents = map[string]struct{}{
	ComponentScopeManager: {},
	ComponentChangeLog:    {},
	ComponentRevertEngine: {},
	ComponentRepository:   {},
	ComponentCache:        {},
	ComponentMetadata:     {},
	ComponentRollback:     {},
	ComponentMaintenance:  {},
	ComponentMetrics:      {},
	ComponentProcessor:    {},
	ComponentCLI:          {},
}
