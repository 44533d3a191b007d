// Package engine drives merge runs against the staging branch.
//
// The Orchestrator owns everything shared by the rebuild and resolve
// strategies:
//   - Precondition checks and syncing with the remote
//   - Loading the tracked branch list from the history ledger
//   - Sequential trial merges with conflict classification (MassMerge)
//   - The ephemeral test branch and cleanup after every run
//   - Failure reporting
//
// All repository access goes through the Repository interface so the engine
// can run against git or an in-memory repository in tests.
package engine
