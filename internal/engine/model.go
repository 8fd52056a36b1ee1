package engine

import (
	"sync"

	"github.com/picklr-io/sysconverge/internal/ir"
)

// Model owns the resources and account contributions of one convergence run.
type Model struct {
	mu            sync.Mutex
	resources     []*ir.Resource
	byID          map[string]*ir.Resource
	contributions []ir.Contribution
	accounts      map[string]bool
	sealed        bool
}

func NewModel() *Model {
	return &Model{
		byID:     make(map[string]*ir.Resource),
		accounts: make(map[string]bool),
	}
}

// Register validates res and adds it to the model. On error the model is
// left unchanged.
func (m *Model) Register(res *ir.Resource) error {
	if res == nil || res.ID == "" {
		return &ValidationError{Msg: "resource id is required"}
	}
	if !res.Kind.Valid() {
		return &ValidationError{ID: res.ID, Msg: "unknown kind " + string(res.Kind)}
	}
	if !res.State.Valid() {
		return &InvalidStateError{ID: res.ID, State: res.State}
	}

	stage := res.Stage
	if stage == "" {
		stage = ir.StageMain
		if res.Kind == ir.KindMailAlias {
			stage = ir.StageLast
		}
	}
	if stage.Rank() < 0 {
		return &ValidationError{ID: res.ID, Msg: "unknown stage " + string(stage)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[res.ID]; exists {
		return &DuplicateIDError{ID: res.ID}
	}

	res.Stage = stage
	m.byID[res.ID] = res
	m.resources = append(m.resources, res)
	return nil
}

// RegisterContribution records an account's email for the alias merge. At
// most one contribution per account is accepted.
func (m *Model) RegisterContribution(accountID, email string, state ir.DesiredState) error {
	if accountID == "" {
		return &ValidationError{Msg: "contribution account id is required"}
	}
	if !state.Valid() {
		return &InvalidStateError{ID: "contribution:" + accountID, State: state}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sealed {
		return ErrSealed
	}
	if m.accounts[accountID] {
		return &DuplicateAccountError{AccountID: accountID}
	}

	m.accounts[accountID] = true
	m.contributions = append(m.contributions, ir.Contribution{
		AccountID: accountID,
		Email:     email,
		State:     state,
	})
	return nil
}

// Resources returns the registered resources in registration order.
func (m *Model) Resources() []*ir.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ir.Resource(nil), m.resources...)
}

// Resource returns the resource registered under id, or nil.
func (m *Model) Resource(id string) *ir.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

// Snapshot seals the contribution set and returns a copy of it. Later
// RegisterContribution calls fail with ErrSealed.
func (m *Model) Snapshot() []ir.Contribution {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = true
	return append([]ir.Contribution(nil), m.contributions...)
}

// Contributions returns a copy of the contributions without sealing.
func (m *Model) Contributions() []ir.Contribution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ir.Contribution(nil), m.contributions...)
}
