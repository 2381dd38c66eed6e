package fleet

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Name namespaces. Every machine the fleet owns carries ServerNamePrefix;
// the standby and recycle namespaces nest inside it.
const (
	ServerNamePrefix  = "flotilla-"
	StandbyNamePrefix = ServerNamePrefix + "standby-"
	RecycleNamePrefix = ServerNamePrefix + "recycle-"

	// LabelKeyPrefix marks provider label entries that encode one job
	// requirement label each.
	LabelKeyPrefix = "flotilla-label-"

	// SSHKeyLabel carries the name of the SSH key the server was
	// provisioned with.
	SSHKeyLabel = "flotilla-ssh-key"
)

// JobServerName returns the deterministic server name for a job. Creating
// the same job twice yields the same name, which is what makes creation
// idempotent across cycles.
func JobServerName(runID, jobID int64) string {
	return fmt.Sprintf("%s%d-%d", ServerNamePrefix, runID, jobID)
}

// RunScopedPrefix returns the name prefix shared by every job server of
// one workflow run.
func RunScopedPrefix(runID int64) string {
	return fmt.Sprintf("%s%d-", ServerNamePrefix, runID)
}

// StandbyServerName returns a fresh unique name in the standby namespace.
func StandbyServerName() string {
	return StandbyNamePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsFleetServer reports whether name belongs to the fleet namespace.
func IsFleetServer(name string) bool {
	return strings.HasPrefix(name, ServerNamePrefix)
}

// IsStandbyServer reports whether name belongs to the standby namespace.
func IsStandbyServer(name string) bool {
	return strings.HasPrefix(name, StandbyNamePrefix)
}

// IsRecyclableServer reports whether name belongs to the recycle
// namespace.
func IsRecyclableServer(name string) bool {
	return strings.HasPrefix(name, RecycleNamePrefix)
}
