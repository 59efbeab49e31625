package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/commonledger/internal/domain"
	"github.com/punchamoorthee/commonledger/internal/models"
)

func TestReserveFees(t *testing.T) {
	e := newEnv(t)
	alice, bob, dave := e.person("Alice"), e.person("Bob"), e.person("Dave")
	g := e.group(alice, "10")
	e.join(bob, g.ID)
	e.join(dave, g.ID)
	_, err := e.groups.UpdateReserve(e.ctx, alice, g.ID, dave, true, dec("0.1"))
	require.NoError(t, err)

	out := e.mustPay(alice, alice, bob, g.ID, "2.00")
	require.NoError(t, out.FeeErr)
	require.Len(t, out.Fees, 1)

	fee := out.Fees[0]
	assert.True(t, fee.Amount.Equal(dec("0.20")))
	assert.Equal(t, bob, fee.CustomerID, "the worker funds the reserve")
	assert.Equal(t, dave, fee.WorkerID)
	assert.Equal(t, reserveFeeNotes, fee.Notes)
	assert.Equal(t, domain.KindExchange, fee.Kind)
	assert.Equal(t, out.Exchange.Metadata, fee.Metadata)

	assert.True(t, e.balance(alice, g.ID).Equal(dec("-2")))
	assert.True(t, e.balance(bob, g.ID).Equal(dec("1.8")))
	assert.True(t, e.balance(dave, g.ID).Equal(dec("0.2")))
	e.requireConserved(g.ID)

	require.Len(t, e.notifier.fees, 1)
	assert.Equal(t, fee.ID, e.notifier.fees[0].Exchange.ID)

	linked, err := e.st.ListFeeExchanges(e.ctx, out.Exchange.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, fee.ID, linked[0].ID)

	t.Run("destroy cascades to the fees", func(t *testing.T) {
		rev, err := e.exchanges.Destroy(e.ctx, Caller{PersonID: alice}, out.Exchange.ID)
		require.NoError(t, err)
		require.NoError(t, rev.FeeErr)
		require.Len(t, rev.Fees, 1)
		assert.Equal(t, *rev.Exchange.DeletedAt, *rev.Fees[0].DeletedAt, "fees share the base deletion time")

		for _, id := range []int64{alice, bob, dave} {
			assert.True(t, e.balance(id, g.ID).IsZero())
		}
		e.requireConserved(g.ID)
	})
}

func TestFeesSkipped(t *testing.T) {
	e := newEnv(t)
	alice, bob, dave := e.person("Alice"), e.person("Bob"), e.person("Dave")
	g := e.group(alice, "10")
	e.join(bob, g.ID)
	e.join(dave, g.ID)
	_, err := e.groups.UpdateReserve(e.ctx, alice, g.ID, dave, true, dec("0.1"))
	require.NoError(t, err)

	create := func(req models.ExchangeRequest) *Outcome {
		t.Helper()
		req.GroupID = g.ID
		out, err := e.exchanges.Create(e.ctx, Caller{PersonID: alice}, req, "", "")
		require.NoError(t, err)
		return out
	}

	t.Run("waived", func(t *testing.T) {
		out := create(models.ExchangeRequest{WorkerID: bob, Amount: dec("2"), WaveAllFees: true})
		assert.Empty(t, out.Fees)
	})

	t.Run("plain exchange kind", func(t *testing.T) {
		out := create(models.ExchangeRequest{Kind: domain.KindExchange, WorkerID: bob, Amount: dec("2")})
		assert.Empty(t, out.Fees)
	})

	t.Run("reserve holder is the worker", func(t *testing.T) {
		out := create(models.ExchangeRequest{WorkerID: dave, Amount: dec("2")})
		assert.Empty(t, out.Fees)
	})

	t.Run("rounds to nothing", func(t *testing.T) {
		out := create(models.ExchangeRequest{WorkerID: bob, Amount: dec("0.04")})
		assert.Empty(t, out.Fees)
	})

	assert.True(t, e.balance(dave, g.ID).Equal(dec("2")))
	e.requireConserved(g.ID)
}

func TestFeeFailureKeepsTheBaseExchange(t *testing.T) {
	e := newEnv(t)
	alice, bob, dave := e.person("Alice"), e.person("Bob"), e.person("Dave")
	g := e.group(alice, "10")
	e.join(bob, g.ID)
	e.join(dave, g.ID)
	_, err := e.groups.UpdateReserve(e.ctx, alice, g.ID, dave, true, dec("0.5"))
	require.NoError(t, err)
	require.NoError(t, e.memberships.Breakup(e.ctx, dave, dave, g.ID))

	out := e.mustPay(alice, alice, bob, g.ID, "2")

	assert.Empty(t, out.Fees)
	var feeErr *domain.FeeApplicationError
	require.ErrorAs(t, out.FeeErr, &feeErr)
	assert.Equal(t, out.Exchange.ID, feeErr.ExchangeID)
	assert.ErrorContains(t, out.FeeErr, "reserve")

	assert.True(t, e.balance(bob, g.ID).Equal(dec("2")), "the base exchange stands")
	assert.True(t, e.balance(dave, g.ID).IsZero())
	e.requireConserved(g.ID)
}

func TestPlanFeesInTheDefaultGroup(t *testing.T) {
	e := newEnv(t)
	alice := e.person("Alice")

	workerPlan := &domain.FeePlan{Name: "seller", Fees: []domain.Fee{
		{Kind: domain.PercentTransactionFee, Percent: dec("0.1"), RecipientID: alice},
		{Kind: domain.PercentTransactionStripeFee, Percent: dec("0.03")},
		{Kind: domain.RecurringFee, Amount: dec("5"), Interval: domain.IntervalMonth, RecipientID: alice},
	}}
	customerPlan := &domain.FeePlan{Name: "buyer", Fees: []domain.Fee{
		{Kind: domain.FixedTransactionFee, Amount: dec("0.25"), RecipientID: alice},
	}}
	require.NoError(t, e.st.CreateFeePlan(e.ctx, workerPlan))
	require.NoError(t, e.st.CreateFeePlan(e.ctx, customerPlan))

	bob := e.personWithPlan("Bob", &workerPlan.ID)
	carol := e.personWithPlan("Carol", &customerPlan.ID)
	g := e.group(alice, "20")
	other := e.group(alice, "20")
	for _, id := range []int64{bob, carol} {
		e.join(id, g.ID)
		e.join(id, other.ID)
	}
	e.configure(Preferences{DefaultGroupID: g.ID, EmailNotifications: true})

	out := e.mustPay(carol, carol, bob, g.ID, "10")
	require.NoError(t, out.FeeErr)
	require.Len(t, out.Fees, 2)

	workerFee, customerFee := out.Fees[0], out.Fees[1]
	assert.Equal(t, bob, workerFee.CustomerID)
	assert.True(t, workerFee.Amount.Equal(dec("1")))
	assert.Equal(t, "percent transaction fee", workerFee.Notes)
	assert.Equal(t, domain.ExchangeRef(out.Exchange.ID), workerFee.Metadata)

	assert.Equal(t, carol, customerFee.CustomerID)
	assert.True(t, customerFee.Amount.Equal(dec("0.25")))
	assert.Equal(t, "fixed transaction fee", customerFee.Notes)

	assert.True(t, e.balance(carol, g.ID).Equal(dec("-10.25")))
	assert.True(t, e.balance(bob, g.ID).Equal(dec("9")))
	assert.True(t, e.balance(alice, g.ID).Equal(dec("1.25")))
	e.requireConserved(g.ID)

	t.Run("other groups charge no plan fees", func(t *testing.T) {
		out := e.mustPay(carol, carol, bob, other.ID, "10")
		assert.Empty(t, out.Fees)
		assert.True(t, e.balance(alice, other.ID).IsZero())
	})

	t.Run("destroy reverses plan fees", func(t *testing.T) {
		rev, err := e.exchanges.Destroy(e.ctx, Caller{PersonID: alice}, out.Exchange.ID)
		require.NoError(t, err)
		assert.Len(t, rev.Fees, 2)
		for _, id := range []int64{alice, bob, carol} {
			assert.True(t, e.balance(id, g.ID).IsZero())
		}
	})
}

func TestRecurringFees(t *testing.T) {
	e := newEnv(t)
	alice := e.person("Alice")
	plan := &domain.FeePlan{Name: "membership", Fees: []domain.Fee{
		{Kind: domain.RecurringFee, Amount: dec("5"), Interval: domain.IntervalMonth, RecipientID: alice},
		{Kind: domain.RecurringFee, Amount: dec("20"), Interval: domain.IntervalYear, RecipientID: alice},
		{Kind: domain.FixedTransactionFee, Amount: dec("1"), RecipientID: alice},
	}}
	require.NoError(t, e.st.CreateFeePlan(e.ctx, plan))
	bob := e.personWithPlan("Bob", &plan.ID)
	g := e.group(alice, "10")
	e.join(bob, g.ID)

	t.Run("nothing to do without a default group", func(t *testing.T) {
		r := NewRecurringFees(e.exchanges, e.prefs, e.log)
		created, err := r.Charge(e.ctx, domain.IntervalMonth)
		require.NoError(t, err)
		assert.Empty(t, created)
	})

	e.configure(Preferences{DefaultGroupID: g.ID, EmailNotifications: true})
	r := NewRecurringFees(e.exchanges, e.prefs, e.log)

	t.Run("monthly", func(t *testing.T) {
		created, err := r.Charge(e.ctx, domain.IntervalMonth)
		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, "monthly recurring fee", created[0].Notes)
		assert.Equal(t, bob, created[0].CustomerID)
		assert.True(t, created[0].Amount.Equal(dec("5")))
		assert.True(t, e.balance(bob, g.ID).Equal(dec("-5")))
		require.Len(t, e.notifier.fees, 1)
	})

	t.Run("yearly over the credit limit", func(t *testing.T) {
		created, err := r.Charge(e.ctx, domain.IntervalYear)
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		assert.Empty(t, created)
		assert.True(t, e.balance(bob, g.ID).Equal(dec("-5")))
	})

	e.requireConserved(g.ID)
}

func TestRecurringSchedulerLifecycle(t *testing.T) {
	e := newEnv(t)
	r := NewRecurringFees(e.exchanges, e.prefs, e.log)
	require.NoError(t, r.Start())
	r.Stop(e.ctx)

	NewRecurringFees(e.exchanges, e.prefs, e.log).Stop(e.ctx)
}
