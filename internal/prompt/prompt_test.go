package prompt_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	shipiterrors "shipit.dev/shipit/internal/errors"
	"shipit.dev/shipit/internal/prompt"
)

func TestLineTerminal(t *testing.T) {
	t.Run("empty and affirmative answers confirm", func(t *testing.T) {
		var out bytes.Buffer
		term := prompt.NewLineTerminal(strings.NewReader("\nyes\nn\n"), &out)

		for _, want := range []bool{true, true, false} {
			ok, err := term.Confirm("Can I use it?")
			require.NoError(t, err)
			require.Equal(t, want, ok)
		}
		require.Equal(t, strings.Repeat("Can I use it? [Y/n] ", 3), out.String())
	})

	t.Run("acknowledge waits for a line", func(t *testing.T) {
		var out bytes.Buffer
		term := prompt.NewLineTerminal(strings.NewReader("\n"), &out)

		require.NoError(t, term.Acknowledge("Press Enter."))
		require.Equal(t, "Press Enter.", out.String())
	})

	t.Run("closed input aborts", func(t *testing.T) {
		term := prompt.NewLineTerminal(strings.NewReader(""), &bytes.Buffer{})

		err := term.Acknowledge("Press Enter.")
		require.ErrorIs(t, err, shipiterrors.ErrResolutionAborted)

		_, err = term.Confirm("Can I use it?")
		require.ErrorIs(t, err, shipiterrors.ErrResolutionAborted)
	})

	t.Run("a final line without newline still counts", func(t *testing.T) {
		term := prompt.NewLineTerminal(strings.NewReader("Y"), &bytes.Buffer{})

		ok, err := term.Confirm("Can I use it?")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("show prints the text", func(t *testing.T) {
		var out bytes.Buffer
		term := prompt.NewLineTerminal(strings.NewReader(""), &out)

		term.Show("CONFLICT (content): Merge conflict in a.txt\n")
		require.Equal(t, "CONFLICT (content): Merge conflict in a.txt\n", out.String())
	})
}
