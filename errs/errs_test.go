//go:build !sanskrit_uniterrors

package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := New(Capability, "missing Drop")
	require.ErrorIs(t, err, ErrCapability)
	require.NotErrorIs(t, err, ErrLinearity)
	require.Equal(t, "CapabilityError: missing Drop", err.Error())
}

func TestWrapKeepsInnermostKind(t *testing.T) {
	inner := New(Parse, "bad tag")
	outer := Wrap(Integrity, fmt.Errorf("loading: %w", inner), "module")
	require.ErrorIs(t, outer, ErrParse)
	require.Equal(t, Parse, KindOf(outer))

	plain := Wrap(Storage, errors.New("disk full"), "commit")
	require.ErrorIs(t, plain, ErrStorage)
	require.Contains(t, plain.Error(), "disk full")
	require.Nil(t, Wrap(Storage, nil, "noop"))
}

func TestSectionFatal(t *testing.T) {
	require.True(t, OutOfGas.SectionFatal())
	require.True(t, OutOfMemory.SectionFatal())
	require.True(t, Storage.SectionFatal())
	require.False(t, Execution.SectionFatal())
	require.Equal(t, "Kind(99)", Kind(99).String())
}

func TestNewf(t *testing.T) {
	err := Newf(Integrity, "offset %d out of range", 7)
	require.Equal(t, "IntegrityError: offset 7 out of range", err.Error())
}

func TestTagIsLiteral(t *testing.T) {
	err := New(Parse, "100% of %d")
	require.Equal(t, "ParseError: 100% of %d", err.Error())

	err = Wrap(Storage, errors.New("io"), "bucket %s")
	require.Equal(t, "StorageError: bucket %s: io", err.Error())
}
