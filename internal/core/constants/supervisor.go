package constants

import "time"

// Subprocess supervision defaults for the rotator child process.
const (
	// SupervisorGracefulTimeout is how long the supervisor waits after
	// SIGTERM before escalating to SIGKILL.
	SupervisorGracefulTimeout = 5 * time.Second

	// SupervisorRestartBackoff is the delay before the one permitted
	// restart-after-crash attempt.
	SupervisorRestartBackoff = 2 * time.Second

	// SupervisorMaxRestarts is the number of unclean exits tolerated before
	// the supervisor escalates to the orchestrator instead of restarting.
	SupervisorMaxRestarts = 1

	// SupervisorEscalationWindow bounds how soon a second unclean exit must
	// follow the first restart to count as a repeat crash rather than an
	// unrelated, later failure.
	SupervisorEscalationWindow = 30 * time.Second

	// SupervisorQuiescenceDelay is how long the supervisor waits after the
	// scorer or refresh finalizer rewrites the endpoint file before treating
	// the rotator's watch-mode reload as complete.
	SupervisorQuiescenceDelay = 250 * time.Millisecond
)
