package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/commonledger/internal/domain"
	"github.com/punchamoorthee/commonledger/internal/logging"
	"github.com/punchamoorthee/commonledger/internal/models"
	"github.com/punchamoorthee/commonledger/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// spyNotifier records every notice it is handed.
type spyNotifier struct {
	mu       sync.Mutex
	payments []domain.PaymentNotice
	fees     []domain.PaymentNotice
	members  []domain.MembershipNotice
	err      error
}

func (n *spyNotifier) PaymentReceived(_ context.Context, p domain.PaymentNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payments = append(n.payments, p)
	return n.err
}

func (n *spyNotifier) FeeCharged(_ context.Context, p domain.PaymentNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fees = append(n.fees, p)
	return n.err
}

func (n *spyNotifier) MembershipAccepted(_ context.Context, m domain.MembershipNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.members = append(n.members, m)
	return n.err
}

type testEnv struct {
	t           *testing.T
	ctx         context.Context
	st          *store.Store
	log         *slog.Logger
	notifier    *spyNotifier
	prefs       Preferences
	exchanges   *ExchangeService
	memberships *MembershipService
	groups      *GroupService
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := &testEnv{
		t:        t,
		ctx:      context.Background(),
		st:       st,
		log:      logging.New(io.Discard, "development", slog.LevelError),
		notifier: &spyNotifier{},
	}
	e.configure(Preferences{EmailNotifications: true})
	return e
}

// configure rebuilds the services with prefs.
func (e *testEnv) configure(prefs Preferences) {
	e.prefs = prefs
	e.exchanges = NewExchangeService(e.st, Policy{}, e.notifier, prefs, e.log)
	e.memberships = NewMembershipService(e.st, e.notifier, prefs, e.log)
	e.groups = NewGroupService(e.st, e.log)
}

func (e *testEnv) person(name string) int64 {
	return e.personWithPlan(name, nil)
}

func (e *testEnv) personWithPlan(name string, planID *int64) int64 {
	e.t.Helper()
	p := domain.Person{Name: name, FeePlanID: planID}
	require.NoError(e.t, e.st.CreatePerson(e.ctx, &p))
	return p.ID
}

// group founds a public group with its own currency.
func (e *testEnv) group(ownerID int64, limit string) domain.Group {
	e.t.Helper()
	g := domain.Group{
		Name:          "Riverside",
		Unit:          "hours",
		Asset:         "hours",
		Mode:          domain.GroupPublic,
		OwnerID:       ownerID,
		AdhocCurrency: true,
	}
	if limit != "" {
		g.DefaultCreditLimit = decimal.NewNullDecimal(dec(limit))
	}
	require.NoError(e.t, e.groups.Create(e.ctx, &g))
	return g
}

func (e *testEnv) join(personID, groupID int64) {
	e.t.Helper()
	_, err := e.memberships.Request(e.ctx, personID, groupID)
	require.NoError(e.t, err)
}

func (e *testEnv) account(personID, groupID int64) *domain.Account {
	e.t.Helper()
	a, err := e.st.GetAccount(e.ctx, personID, groupID)
	require.NoError(e.t, err)
	return a
}

func (e *testEnv) balance(personID, groupID int64) decimal.Decimal {
	return e.account(personID, groupID).Balance
}

func (e *testEnv) requireConserved(groupID int64) {
	e.t.Helper()
	sum, err := e.st.SumGroupBalances(e.ctx, groupID)
	require.NoError(e.t, err)
	require.True(e.t, sum.IsZero(), "group balances sum to %s", sum)
}

func (e *testEnv) pay(caller, customer, worker, groupID int64, amount string) (*Outcome, error) {
	return e.exchanges.Create(e.ctx, Caller{PersonID: caller}, models.ExchangeRequest{
		CustomerID: customer,
		WorkerID:   worker,
		GroupID:    groupID,
		Amount:     dec(amount),
	}, "", "")
}

func (e *testEnv) mustPay(caller, customer, worker, groupID int64, amount string) *Outcome {
	e.t.Helper()
	out, err := e.pay(caller, customer, worker, groupID, amount)
	require.NoError(e.t, err)
	return out
}

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve), "expected a validation error, got %v", err)
	var fields []string
	for _, fe := range ve.Errors {
		fields = append(fields, fe.Field)
	}
	return fields
}
