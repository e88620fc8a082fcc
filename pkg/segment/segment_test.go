package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegment_ExplicitBreaksHonoredVerbatim(t *testing.T) {
	result, err := Segment(Input{PageCount: 6, ExplicitPageBreaks: []int{3}})
	require.NoError(t, err)
	require.Len(t, result.Boundaries, 2)
	assert.Equal(t, 0, result.Boundaries[0].StartPage)
	assert.Equal(t, 2, result.Boundaries[0].EndPage)
	assert.Equal(t, 3, result.Boundaries[1].StartPage)
	assert.Equal(t, 5, result.Boundaries[1].EndPage)
	assert.False(t, result.NeedsConfirmation)
}

func TestSegment_NoSignalDefaultsToSingleStudent(t *testing.T) {
	result, err := Segment(Input{PageCount: 3})
	require.NoError(t, err)
	require.Len(t, result.Boundaries, 1)
	assert.Equal(t, 0, result.Boundaries[0].StartPage)
	assert.Equal(t, 2, result.Boundaries[0].EndPage)
	assert.False(t, result.NeedsConfirmation)
}

func TestSegment_ExpectedStudentsWithoutBreaksSplitsEvenlyAndFlags(t *testing.T) {
	two := 2
	result, err := Segment(Input{PageCount: 5, ExpectedStudents: &two})
	require.NoError(t, err)
	require.Len(t, result.Boundaries, 2)
	assert.Equal(t, 0, result.Boundaries[0].StartPage)
	assert.Equal(t, 2, result.Boundaries[0].EndPage)
	assert.Equal(t, 3, result.Boundaries[1].StartPage)
	assert.Equal(t, 4, result.Boundaries[1].EndPage)
	assert.True(t, result.NeedsConfirmation)
}

func TestSegment_PartitionsExactlyWithNoOverlapOrGap(t *testing.T) {
	three := 3
	result, err := Segment(Input{PageCount: 10, ExpectedStudents: &three})
	require.NoError(t, err)

	covered := make([]bool, 10)
	for _, b := range result.Boundaries {
		for p := b.StartPage; p <= b.EndPage; p++ {
			require.False(t, covered[p], "page %d covered twice", p)
			covered[p] = true
		}
	}
	for p, c := range covered {
		assert.True(t, c, "page %d not covered", p)
	}
}

func TestSegment_InvalidExplicitBreaksFallsBackToHeuristic(t *testing.T) {
	// breaks out of range are ignored rather than honored verbatim
	result, err := Segment(Input{PageCount: 3, ExplicitPageBreaks: []int{5}})
	require.NoError(t, err)
	assert.Len(t, result.Boundaries, 1)
}

func TestSegment_RejectsNonPositivePageCount(t *testing.T) {
	_, err := Segment(Input{PageCount: 0})
	assert.Error(t, err)
}
