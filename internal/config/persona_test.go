package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersona_EmptyAndString(t *testing.T) {
	p := EmptyPersona()
	assert.True(t, p.IsEmpty())
	assert.Equal(t, "", p.String())

	p.Name = "Dana"
	p.Goals = []string{"delegate more"}
	assert.False(t, p.IsEmpty())
	assert.Equal(t, "Name: Dana\nGoals:\n- delegate more", p.String())
}

func TestUpdatePersona_RoundTripKeepsKeyOrder(t *testing.T) {
	clearEnv(t)
	base := writeBase(t, defaultFiles())
	c, err := New(base)
	require.NoError(t, err)

	want := Persona{
		Name:               "Dana",
		Role:               "VP Engineering",
		Organization:       "Acme",
		Goals:              []string{"build a leadership bench", "ship on time"},
		Challenges:         []string{"yes"},
		CommunicationStyle: "direct",
		Notes:              "",
	}
	require.NoError(t, c.UpdatePersona(want))

	raw, err := os.ReadFile(filepath.Join(base, "config", PersonaFile))
	require.NoError(t, err)
	text := string(raw)
	order := []string{"name:", "role:", "organization:", "goals:", "challenges:", "communication_style:", "notes:"}
	last := -1
	for _, key := range order {
		idx := strings.Index(text, key)
		require.GreaterOrEqual(t, idx, 0, "missing %s", key)
		assert.Greater(t, idx, last, "%s out of order", key)
		last = idx
	}

	reloaded, err := New(base)
	require.NoError(t, err)
	if diff := cmp.Diff(want, reloaded.Persona()); diff != "" {
		t.Errorf("persona mismatch (-want +got):\n%s", diff)
	}
}
