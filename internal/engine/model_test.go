package engine

import (
	"errors"
	"testing"

	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModel_Register(t *testing.T) {
	m := NewModel()

	require.NoError(t, m.Register(&ir.Resource{ID: "account:alice", Kind: ir.KindAccount, State: ir.Present}))
	require.NoError(t, m.Register(&ir.Resource{ID: "mailalias:/etc/aliases", Kind: ir.KindMailAlias, State: ir.Present}))

	assert.Equal(t, ir.StageMain, m.Resource("account:alice").Stage)
	assert.Equal(t, ir.StageLast, m.Resource("mailalias:/etc/aliases").Stage)
	assert.Len(t, m.Resources(), 2)
}

func TestModel_RegisterRejects(t *testing.T) {
	tests := []struct {
		name string
		res  *ir.Resource
		is   func(error) bool
	}{
		{"nil", nil, IsValidation},
		{"empty id", &ir.Resource{Kind: ir.KindFile, State: ir.Present}, IsValidation},
		{"unknown kind", &ir.Resource{ID: "x", Kind: "cron", State: ir.Present}, IsValidation},
		{"unknown stage", &ir.Resource{ID: "x", Kind: ir.KindFile, State: ir.Present, Stage: "first"}, IsValidation},
		{"bad state", &ir.Resource{ID: "x", Kind: ir.KindFile, State: "enabled"}, func(err error) bool {
			var se *InvalidStateError
			return errors.As(err, &se) && IsValidation(err)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModel()
			err := m.Register(tt.res)
			require.Error(t, err)
			assert.True(t, tt.is(err), err.Error())
			assert.Empty(t, m.Resources())
		})
	}
}

func TestModel_RegisterDuplicateLeavesModelUnchanged(t *testing.T) {
	m := NewModel()
	first := &ir.Resource{ID: "file:/etc/motd", Kind: ir.KindFile, State: ir.Present}
	require.NoError(t, m.Register(first))

	err := m.Register(&ir.Resource{ID: "file:/etc/motd", Kind: ir.KindFile, State: ir.Absent})
	var dup *DuplicateIDError
	require.ErrorAs(t, err, &dup)
	assert.True(t, IsValidation(err))

	assert.Len(t, m.Resources(), 1)
	assert.Same(t, first, m.Resource("file:/etc/motd"))
}

func TestModel_Contributions(t *testing.T) {
	m := NewModel()
	require.NoError(t, m.RegisterContribution("alice", "alice@example.com", ir.Present))
	require.NoError(t, m.RegisterContribution("bob", "", ir.Absent))

	err := m.RegisterContribution("alice", "other@example.com", ir.Present)
	var dup *DuplicateAccountError
	require.ErrorAs(t, err, &dup)

	err = m.RegisterContribution("carol", "c@example.com", "maybe")
	assert.True(t, IsValidation(err))

	assert.Equal(t, []ir.Contribution{
		{AccountID: "alice", Email: "alice@example.com", State: ir.Present},
		{AccountID: "bob", State: ir.Absent},
	}, m.Contributions())
}

func TestModel_SnapshotSeals(t *testing.T) {
	m := NewModel()
	require.NoError(t, m.RegisterContribution("alice", "alice@example.com", ir.Present))

	snap := m.Snapshot()
	assert.Len(t, snap, 1)

	err := m.RegisterContribution("bob", "bob@example.com", ir.Present)
	assert.ErrorIs(t, err, ErrSealed)
	assert.Len(t, m.Snapshot(), 1)
}
