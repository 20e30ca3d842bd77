package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotDigestDeterminism(t *testing.T) {
	a := IRObject{"records": IRObject{"7": IRObject{"project_id": IRInt(2)}}}
	b := IRObject{"records": IRObject{"7": IRObject{"project_id": IRInt(2)}}}

	da, err := SnapshotDigest(a)
	require.NoError(t, err)
	db, err := SnapshotDigest(b)
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.Len(t, da, 64)
}

func TestSnapshotDigestSensitiveToOrder(t *testing.T) {
	a := IRObject{"edges": IRArray{IRString("7"), IRString("8")}}
	b := IRObject{"edges": IRArray{IRString("8"), IRString("7")}}

	da, err := SnapshotDigest(a)
	require.NoError(t, err)
	db, err := SnapshotDigest(b)
	require.NoError(t, err)

	assert.NotEqual(t, da, db)
}

func TestDomainSeparation(t *testing.T) {
	obj := IRObject{"ids": IRArray{IRInt(7)}}

	snap, err := SnapshotDigest(obj)
	require.NoError(t, err)
	vars, err := VariablesHash(obj)
	require.NoError(t, err)

	assert.NotEqual(t, snap, vars)
}

func TestVariablesHashNil(t *testing.T) {
	h1, err := VariablesHash(nil)
	require.NoError(t, err)
	h2, err := VariablesHash(IRObject{})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
