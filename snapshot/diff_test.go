package snapshot

import (
	"testing"

	"github.com/migadu/protonfusion/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	same := testRule("same", filter.StatusEnabled)
	toggled := testRule("toggled", filter.StatusEnabled)
	edited := testRule("edited", filter.StatusEnabled)
	reprioritised := testRule("reprioritised", filter.StatusEnabled)
	gone := testRule("gone", filter.StatusEnabled)

	editedNew := edited.Clone()
	editedNew.Conditions[0].Value = "other"
	repNew := reprioritised.Clone()
	repNew.Priority = 7

	d := Diff(
		[]filter.Rule{same, toggled, edited, reprioritised, gone},
		[]filter.Rule{repNew, editedNew, toggled.WithStatus(filter.StatusDisabled), same, testRule("new", filter.StatusDisabled)},
	)

	require.Len(t, d.Added, 1)
	assert.Equal(t, "new", d.Added[0].Name)
	require.Len(t, d.Removed, 1)
	assert.Equal(t, "gone", d.Removed[0].Name)
	require.Len(t, d.Modified, 2)
	assert.Equal(t, "edited", d.Modified[0].New.Name)
	assert.Equal(t, "reprioritised", d.Modified[1].New.Name)
	require.Len(t, d.StateChanged, 1)
	assert.Equal(t, filter.StatusDisabled, d.StateChanged[0].New.Status)
	assert.Equal(t, 1, d.Unchanged)

	assert.Equal(t, DiffSummary{Added: 1, Removed: 1, Modified: 2, StateChanged: 1, Unchanged: 1, TotalChanges: 5}, d.Summary())
	assert.True(t, d.HasChanges())
	assert.False(t, Diff([]filter.Rule{same}, []filter.Rule{same}).HasChanges())
}
