// Package branchlist holds the branch records tracked on the staging branch and
// their tabular encoding.
//
// A List is ordered: it is the exact sequence of merges that reproduces the
// staging tree. Records are identified by the (Name, CommitID) pair.
package branchlist

// AllMarker is the single-row removal request that drops every tracked branch.
const AllMarker = "all"

// Request files written by resolve and consumed by rebuild
const (
	AdditionsFile = "new_branches.list"
	RemovalsFile  = "removed_branches.list"
)

// Branch is one record of a branch list
type Branch struct {
	Name      string
	CommitID  string
	Committer string
	Reason    string
}

// String returns the branch name
func (b Branch) String() string {
	return b.Name
}

// Same reports whether both records point at the same branch revision
func (b Branch) Same(other Branch) bool {
	return b.Name == other.Name && b.CommitID == other.CommitID
}

// WithReason returns a copy of the branch carrying the given reason
func (b Branch) WithReason(reason string) Branch {
	b.Reason = reason
	return b
}

// Row returns the persisted columns of the record. The reason is only written
// when set.
func (b Branch) Row() []string {
	if b.Reason != "" {
		return []string{b.Name, b.CommitID, b.Committer, b.Reason}
	}
	return []string{b.Name, b.CommitID, b.Committer}
}

// Log returns the ledger columns of the record, without the reason
func (b Branch) Log() Branch {
	b.Reason = ""
	return b
}

func fromRow(row []string) Branch {
	var b Branch
	fields := []*string{&b.Name, &b.CommitID, &b.Committer, &b.Reason}
	for i, value := range row {
		if i >= len(fields) {
			break
		}
		*fields[i] = value
	}
	return b
}
