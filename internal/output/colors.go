package output

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	branchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	commitStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// DisableColor strips all styling from subsequent output
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// Branch highlights a branch name
func Branch(name string) string {
	return branchStyle.Render(name)
}

// Commit highlights a commit id
func Commit(id string) string {
	return commitStyle.Render(id)
}
