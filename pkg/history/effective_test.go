package history_test

import (
	"testing"

	. "github.com/pseudomuto/waypoint/pkg/history"
	"github.com/stretchr/testify/require"
)

func row(rank int32, version string, typ string, success bool) *Row {
	r := &Row{InstalledRank: rank, Type: typ, Success: success, Script: "s"}
	if version != "" {
		r.Version = &version
	}
	return r
}

func TestEffectiveVersions(t *testing.T) {
	rows := []*Row{
		row(1, "1", TypeVersioned, true),
		row(2, "2", TypeVersioned, true),
		row(3, "3", TypeVersioned, false), // failed, ignored
		row(4, "2", TypeUndo, true),       // undoes V2
	}

	effective := EffectiveVersions(rows)
	require.True(t, effective["1"])
	require.False(t, effective["2"])
	require.False(t, effective["3"])
}

func TestEffectiveVersionsReapplyAfterUndo(t *testing.T) {
	rows := []*Row{
		row(1, "1", TypeVersioned, true),
		row(2, "1", TypeUndo, true),
		row(3, "1", TypeVersioned, true), // re-applied after undo
	}
	effective := EffectiveVersions(rows)
	require.True(t, effective["1"])
}

func TestEffectiveVersionsLegacyUndoType(t *testing.T) {
	rows := []*Row{
		row(1, "1", TypeVersioned, true),
		row(2, "1", "UNDO_SQL", true), // legacy spelling
	}
	effective := EffectiveVersions(rows)
	require.False(t, effective["1"])
}

func TestEffectiveVersionsBaseline(t *testing.T) {
	rows := []*Row{row(1, "5", TypeBaseline, true)}
	effective := EffectiveVersions(rows)
	require.True(t, effective["5"])
}

func TestLatestRepeatable(t *testing.T) {
	crc1, crc2 := int32(100), int32(200)
	r1 := &Row{InstalledRank: 1, Script: "R__v.sql", Type: TypeRepeatable, Success: true, Checksum: &crc1}
	r2 := &Row{InstalledRank: 2, Script: "R__v.sql", Type: TypeRepeatable, Success: true, Checksum: &crc2}

	latest := LatestRepeatable([]*Row{r1, r2})
	require.Same(t, r2, latest["R__v.sql"])
}

func TestBaseline(t *testing.T) {
	require.Nil(t, Baseline(nil))

	rows := []*Row{
		row(1, "3", TypeBaseline, true),
		row(2, "4", TypeVersioned, true),
	}
	b := Baseline(rows)
	require.NotNil(t, b)
	require.Equal(t, "3", *b.Version)
}

func TestLatestForwardRank(t *testing.T) {
	rows := []*Row{
		row(1, "1", TypeVersioned, true),
		row(2, "1", TypeUndo, true),
		row(3, "1", TypeVersioned, true),
	}
	latest := LatestForwardRank(rows)
	require.Equal(t, int32(3), latest["1"].InstalledRank)
}
