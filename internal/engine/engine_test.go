package engine

import (
	"context"
	"testing"

	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/picklr-io/sysconverge/providers/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hostModel declares one user with a key, a lock, sudo and mail forwarding,
// plus the aggregation and notification resources. Home provisioning is only
// declared for present accounts.
func hostModel(t *testing.T, state ir.DesiredState, email string) *Model {
	t.Helper()
	resources := []*ir.Resource{
		{
			ID:         "account:alice",
			Kind:       ir.KindAccount,
			State:      state,
			Attributes: ir.Attributes{Name: "alice", Shell: "/bin/bash", Groups: []string{"wheel"}},
		},
	}
	if state == ir.Present {
		resources = append(resources,
			&ir.Resource{
				ID:         "directory:/home/alice/.ssh",
				Kind:       ir.KindDirectory,
				State:      state,
				DependsOn:  []string{"account:alice"},
				Attributes: ir.Attributes{Path: "/home/alice/.ssh", Owner: "alice", Group: "alice", Mode: 0o700},
			},
			&ir.Resource{
				ID:         "file:/home/alice/.ssh/authorized_keys",
				Kind:       ir.KindFile,
				State:      state,
				DependsOn:  []string{"directory:/home/alice/.ssh"},
				Attributes: ir.Attributes{Path: "/home/alice/.ssh/authorized_keys", Owner: "alice", Mode: 0o600, Content: "ssh-ed25519 AAAA alice\n"},
			},
			&ir.Resource{
				ID:        "password_lock:alice",
				Kind:      ir.KindPasswordLock,
				State:     state,
				DependsOn: []string{"account:alice"},
			},
		)
	}
	resources = append(resources,
		&ir.Resource{
			ID:        "sudo_entry:alice",
			Kind:      ir.KindSudoEntry,
			State:     state,
			DependsOn: []string{"account:alice"},
		},
		&ir.Resource{
			ID:         aliasID,
			Kind:       ir.KindMailAlias,
			State:      ir.Present,
			Attributes: ir.Attributes{AliasFile: "/etc/aliases"},
		},
		&ir.Resource{
			ID:         "package_set:notify",
			Kind:       ir.KindPackageSet,
			State:      ir.Present,
			Stage:      ir.StageLast,
			DependsOn:  []string{aliasID},
			StateFrom:  aliasID,
			Attributes: ir.Attributes{Packages: []string{"mailutils"}},
		},
	)

	m := mustModel(t, resources...)
	require.NoError(t, m.RegisterContribution("alice", email, state))
	return m
}

func TestEngine_Run(t *testing.T) {
	p := null.New()
	report := runModel(t, NewEngine(p), hostModel(t, ir.Present, "alice@example.com"))

	assert.True(t, report.Succeeded())
	assert.Equal(t, 7, report.Summary.Applied)

	a, ok := p.Account("alice")
	require.True(t, ok)
	assert.True(t, a.Locked)
	assert.Equal(t, "/bin/bash", a.Shell)

	sudo, info, ok := p.File("/etc/sudoers.d/alice")
	require.True(t, ok)
	assert.Equal(t, "alice ALL=(ALL) NOPASSWD:ALL\n", string(sudo))
	assert.Equal(t, uint32(0o440), info.Mode)
	assert.Equal(t, "root", info.Owner)

	assert.Equal(t, ir.AliasState{"alice": {"alice@example.com"}, "root": {"alice"}}, p.Aliases())
	assert.True(t, p.Installed("mailutils"))
}

func TestEngine_Idempotent(t *testing.T) {
	p := null.New()
	eng := NewEngine(p)
	runModel(t, eng, hostModel(t, ir.Present, "alice@example.com"))

	p.ResetCalls()
	report := runModel(t, eng, hostModel(t, ir.Present, "alice@example.com"))

	assert.Equal(t, ir.RunSummary{Skipped: 7}, report.Summary)
	assert.Empty(t, p.Mutations())
}

func TestEngine_Deterministic(t *testing.T) {
	first := null.New()
	second := null.New()

	runModel(t, NewEngine(first), hostModel(t, ir.Present, "alice@example.com"))
	runModel(t, NewEngine(second), hostModel(t, ir.Present, "alice@example.com"))

	assert.Equal(t, first.Calls(), second.Calls())
}

func TestEngine_RemoveAccount(t *testing.T) {
	p := null.New()
	eng := NewEngine(p)
	runModel(t, eng, hostModel(t, ir.Present, "alice@example.com"))

	report := runModel(t, eng, hostModel(t, ir.Absent, "alice@example.com"))
	assert.True(t, report.Succeeded(), "%+v", report.Results)

	_, ok := p.Account("alice")
	assert.False(t, ok)
	_, _, ok = p.File("/etc/sudoers.d/alice")
	assert.False(t, ok)
	assert.Empty(t, p.Aliases())
	assert.False(t, p.Installed("mailutils"))
	assert.Equal(t, ir.Absent, report.Result("package_set:notify").State)
}

func TestEngine_NotifyPackageFollowsAliases(t *testing.T) {
	p := null.New()
	eng := NewEngine(p)

	report := runModel(t, eng, hostModel(t, ir.Present, ""))
	assert.Equal(t, ir.Absent, report.Result("package_set:notify").State)
	assert.False(t, p.Installed("mailutils"))

	report = runModel(t, eng, hostModel(t, ir.Present, "alice@example.com"))
	assert.Equal(t, ir.Present, report.Result("package_set:notify").State)
	assert.Equal(t, ir.StatusApplied, report.Result("package_set:notify").Status)
	assert.True(t, p.Installed("mailutils"))
}

func TestEngine_NotifyPackageBlockedByFailedAggregation(t *testing.T) {
	p := null.New()
	p.FailOn(null.OpReadAliases, "", assert.AnError)

	report := runModel(t, NewEngine(p), hostModel(t, ir.Present, "alice@example.com"))
	assert.Equal(t, ir.StatusFailed, report.Result(aliasID).Status)
	assert.Equal(t, ir.StatusBlocked, report.Result("package_set:notify").Status)
	assert.Equal(t, 5, report.Summary.Applied)
}

func TestEngine_AccountFailureDoesNotStopAggregation(t *testing.T) {
	p := null.New()
	p.FailOn(null.OpCreateAccount, "alice", assert.AnError)

	report := runModel(t, NewEngine(p), hostModel(t, ir.Present, "alice@example.com"))
	assert.Equal(t, ir.StatusFailed, report.Result("account:alice").Status)
	assert.Equal(t, ir.StatusBlocked, report.Result("file:/home/alice/.ssh/authorized_keys").Status)
	assert.Equal(t, ir.StatusApplied, report.Result(aliasID).Status)
}

func TestEngine_RejectsCycleBeforeMutation(t *testing.T) {
	p := null.New()
	m := mustModel(t, fileRes("/a", "file:/b"), fileRes("/b", "file:/a"))

	report, err := NewEngine(p).Run(context.Background(), m)
	require.Error(t, err)
	assert.Nil(t, report)

	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Empty(t, p.Calls())
}

func TestEngine_BadContributionFailsAggregationOnly(t *testing.T) {
	p := null.New()
	m := mustModel(t,
		fileRes("/a"),
		&ir.Resource{
			ID:         aliasID,
			Kind:       ir.KindMailAlias,
			State:      ir.Present,
			Attributes: ir.Attributes{AliasFile: "/etc/aliases"},
		},
		&ir.Resource{
			ID:         "package_set:notify",
			Kind:       ir.KindPackageSet,
			State:      ir.Present,
			Stage:      ir.StageLast,
			DependsOn:  []string{aliasID},
			StateFrom:  aliasID,
			Attributes: ir.Attributes{Packages: []string{"mailutils"}},
		},
	)
	require.NoError(t, m.RegisterContribution("alice", "a@example.com,b@example.com", ir.Present))
	require.NoError(t, m.RegisterContribution("bob", "bob@example.com", ir.Present))

	report, err := NewEngine(p).Run(context.Background(), m)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, map[string]ir.Status{
		"file:/a":            ir.StatusApplied,
		aliasID:              ir.StatusFailed,
		"package_set:notify": ir.StatusBlocked,
	}, statuses(report))
	assert.Contains(t, report.Result(aliasID).Reason[0], "single address")

	_, _, ok := p.File("/a")
	assert.True(t, ok)
	assert.Empty(t, p.Aliases())
	assert.False(t, p.Installed("mailutils"))
}

func TestEngine_PrimaryGroupInDeclaredGroups(t *testing.T) {
	p := null.New()
	eng := NewEngine(p)
	account := func() *Model {
		return mustModel(t, &ir.Resource{
			ID:         "account:alice",
			Kind:       ir.KindAccount,
			State:      ir.Present,
			Attributes: ir.Attributes{Name: "alice", Groups: []string{"alice", "wheel"}},
		})
	}

	report := runModel(t, eng, account())
	assert.Equal(t, ir.StatusApplied, report.Result("account:alice").Status)
	a, ok := p.Account("alice")
	require.True(t, ok)
	assert.Equal(t, []string{"wheel"}, a.Groups)

	p.ResetCalls()
	report = runModel(t, eng, account())
	assert.Equal(t, ir.StatusSkipped, report.Result("account:alice").Status)
	assert.Empty(t, p.Mutations())
}

func TestEngine_Plan(t *testing.T) {
	p := null.New()
	p.SetAliases(ir.AliasState{"root": {"ops"}})
	eng := NewEngine(p)

	plan, err := eng.Plan(context.Background(), hostModel(t, ir.Present, "alice@example.com"))
	require.NoError(t, err)
	assert.Empty(t, p.Mutations())

	assert.Equal(t, &ir.PlanSummary{Create: 7}, plan.Summary)
	assert.Equal(t, map[string]*ir.AliasDiff{
		"alice": {After: []string{"alice@example.com"}},
		"root":  {Before: []string{"ops"}, After: []string{"ops", "alice"}},
	}, plan.Aliases)

	runModel(t, eng, hostModel(t, ir.Present, "alice@example.com"))

	plan, err = eng.Plan(context.Background(), hostModel(t, ir.Present, "alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, &ir.PlanSummary{NoOp: 7}, plan.Summary)
	assert.Empty(t, plan.Aliases)
}

func TestEngine_PlanRemove(t *testing.T) {
	p := null.New()
	eng := NewEngine(p)
	runModel(t, eng, hostModel(t, ir.Present, "alice@example.com"))

	plan, err := eng.Plan(context.Background(), hostModel(t, ir.Absent, "alice@example.com"))
	require.NoError(t, err)

	actions := make(map[string]ir.Action)
	for _, c := range plan.Changes {
		actions[c.ID] = c.Action
	}
	assert.Equal(t, ir.ActionRemove, actions["account:alice"])
	assert.Equal(t, ir.ActionRemove, actions["sudo_entry:alice"])
	assert.Equal(t, ir.ActionCreate, actions[aliasID])
	assert.Equal(t, ir.ActionRemove, actions["package_set:notify"])
}

func TestEngine_PlanDoesNotSeal(t *testing.T) {
	m := hostModel(t, ir.Present, "alice@example.com")
	_, err := NewEngine(null.New()).Plan(context.Background(), m)
	require.NoError(t, err)
	assert.NoError(t, m.RegisterContribution("bob", "bob@example.com", ir.Present))
}
