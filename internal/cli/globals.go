// Package cli assembles the wreckit command surface: cobra commands wired
// against an explicit Globals struct rather than package-level flag
// variables, and an App that constructs the store/config/phase-runner/
// orchestrator/doctor collaborators each command needs.
package cli

// Globals holds the persistent flags shared by every subcommand. It is
// threaded through explicitly (constructed once in NewRootCmd, read by each
// RunE) rather than kept as package-level state, so a process embedding
// multiple root commands never has one invocation's flags leak into
// another's.
type Globals struct {
	DryRun  bool
	Verbose bool
	Quiet   bool
	NoTUI   bool
	Cwd     string
}
