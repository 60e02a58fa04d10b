package version

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	cases := []string{"7", "7.23", "7.23.1", "7.23.1.5", "9.24.0.2-rc1", "6.10.4-build-42", "10.0.0"}
	for _, s := range cases {
		v, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, v.String())
	}
}

func TestParseComponents(t *testing.T) {
	v, err := Parse("9.24.3.1-hotfix")
	require.NoError(t, err)
	assert.Equal(t, 9, v.Major())
	assert.Equal(t, 24, v.Minor())
	assert.Equal(t, 3, v.Patch())
	assert.Equal(t, 1, v.Hotfix())
	assert.Equal(t, "hotfix", v.Suffix())
	assert.Equal(t, 4, v.Parts())
}

func TestParseRejects(t *testing.T) {
	for _, s := range []string{"", "  ", "a.b", "1..2", "1.2.3.4.5", "1.x", "-rc1", "1.-2"} {
		_, err := Parse(s)
		if err == nil {
			t.Fatalf("expected error for %q", s)
		}
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid for %q, got %v", s, err)
		}
	}
}

func TestCompareTreatsMissingAsZero(t *testing.T) {
	assert.Equal(t, 0, Compare(MustParse("7"), MustParse("7.0.0.0")))
	assert.Equal(t, -1, Compare(MustParse("6.10"), MustParse("7")))
	assert.Equal(t, 1, Compare(MustParse("7.0.1"), MustParse("7.0.0.9")))
	assert.Equal(t, 0, Compare(MustParse("8.1-a"), MustParse("8.1-b")), "suffix must not affect ordering")
}

func TestBetween(t *testing.T) {
	v := MustParse("5.21.3")
	assert.True(t, v.Between(MustParse("5"), MustParse("7")))
	assert.False(t, v.Between(MustParse("6"), MustParse("7")))
	assert.False(t, MustParse("7").Between(MustParse("5"), MustParse("7")))
}

func TestInUsesTargetPrefix(t *testing.T) {
	v := MustParse("7.23.1")
	assert.True(t, v.In(MustParse("7")))
	assert.True(t, v.In(MustParse("6"), MustParse("7.23")))
	assert.True(t, v.In(MustParse("7.23.1")))
	assert.False(t, v.In(MustParse("7.22")))
	assert.False(t, v.In(MustParse("7.23.1.1")))
	assert.False(t, v.In())
	assert.False(t, v.In(Version{}))
}

func TestInNeedsTargetPrecision(t *testing.T) {
	assert.False(t, MustParse("7").In(MustParse("7.0")))
	assert.False(t, MustParse("7.23").In(MustParse("7.23.0")))
	assert.True(t, MustParse("7.0").In(MustParse("7.0")))
	assert.True(t, MustParse("7.0.0").In(MustParse("7.0")))
	assert.True(t, MustParse("7").In(MustParse("7")))
}

func TestTextMarshaling(t *testing.T) {
	var v Version
	require.NoError(t, v.UnmarshalText([]byte("8.18.4")))
	b, err := v.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "8.18.4", string(b))
	assert.Error(t, v.UnmarshalText([]byte("nope")))
}

func TestZero(t *testing.T) {
	var v Version
	assert.True(t, v.IsZero())
	assert.Equal(t, "", v.String())
	assert.False(t, New(1, 2, 3, 4).IsZero())
	assert.Equal(t, "1.2.3.4", New(1, 2, 3, 4).String())
}
