// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// ServiceStartTimeout is the maximum time to wait for a supervised
	// service's process to report healthy after launch.
	ServiceStartTimeout = 2 * time.Minute

	// ServiceStopGracePeriod is how long a supervised service gets to exit
	// cleanly after SIGTERM before the supervisor escalates to SIGKILL.
	ServiceStopGracePeriod = 5 * time.Second

	// TaskTimeout is the maximum time an execution pipeline run (planner,
	// tool loop, and synthesis) may take before it is force-failed.
	TaskTimeout = 30 * time.Minute

	// ToolCallTimeout is the maximum time a single tool invocation may take.
	ToolCallTimeout = 5 * time.Minute

	// MCPSessionIdleTimeout is how long an MCP session may go without
	// activity before it is eligible for cleanup.
	MCPSessionIdleTimeout = 30 * time.Minute
)
