// Package git is the repository session shipit runs against.
//
// Reads (refs, ancestry, files at a revision) go through go-git. Anything
// that writes, such as merges, pushes, fetches and ledger commits, shells out
// to the git command line through CommandRunner.
package git
