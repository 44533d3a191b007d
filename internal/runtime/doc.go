// Package runtime provides the execution context for shipit commands.
//
// It loads the configuration for the repository, opens the git session and
// sets up logging and the operator prompt shared by every command.
package runtime
