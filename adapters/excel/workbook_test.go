package excel

import (
	"context"
	"path/filepath"
	"testing"

	"gopower/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWorkbookSheets(t *testing.T) {
	r := testkit.SampleReport()
	path, err := NewWorkbookWriter().Export(context.Background(), r, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "power-"+r.RunID.String()+".xlsx", filepath.Base(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SweepSheet, ConfirmationSheet, ModelSheet}, f.GetSheetList())

	sweep, err := f.GetRows(SweepSheet)
	require.NoError(t, err)
	require.Len(t, sweep, 4)
	assert.Equal(t, []string{"N", "Replications", "Converged", "a1", "imm"}, sweep[0])
	assert.Equal(t, []string{"150", "100", "99"}, sweep[2][:3])
	assert.Equal(t, "0.82", sweep[2][4])

	confirm, err := f.GetRows(ConfirmationSheet)
	require.NoError(t, err)
	require.Len(t, confirm, 3)
	assert.Equal(t, "Power", confirm[0][10])
	assert.Equal(t, []string{"imm", "effect", "150"}, confirm[2][:3])
	assert.Equal(t, "0.83", confirm[2][10])

	spec, err := f.GetRows(ModelSheet)
	require.NoError(t, err)
	require.Len(t, spec, 5)
	assert.Equal(t, []string{"M", "X", "a1", "0.3"}, spec[1])
	assert.Equal(t, []string{"imm", "effect", "a3 * b1"}, spec[4])
}

func TestWorkbookWithoutConfirmation(t *testing.T) {
	r := testkit.SampleReport()
	r.Confirmation = nil
	r.Model = nil
	path := filepath.Join(t.TempDir(), "sweep.xlsx")
	require.NoError(t, NewWorkbookWriter().Write(path, r))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SweepSheet}, f.GetSheetList())
}
