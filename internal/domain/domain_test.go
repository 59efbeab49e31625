package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(ve *ValidationError) []string {
	var out []string
	for _, fe := range ve.Errors {
		out = append(out, fe.Field)
	}
	return out
}

func TestExchangeValidateCollectsEveryViolation(t *testing.T) {
	x := Exchange{Kind: "Refund", CustomerID: 3, WorkerID: 3, Amount: d("-1"), Metadata: Metadata{Kind: MetadataOffer}}

	ve := x.Validate()

	assert.ElementsMatch(t, []string{"kind", "group_id", "metadata", "amount", "worker"}, fields(ve))
	assert.ErrorIs(t, ve, ErrNonPositiveAmount)
}

func TestExchangeValidateAllowsMissingMetadata(t *testing.T) {
	x := Exchange{Kind: KindExchange, CustomerID: 1, WorkerID: 2, GroupID: 1, Amount: d("1")}
	assert.NoError(t, x.Validate().Err())
}

func TestExchangeValidateRejectsUnknownKind(t *testing.T) {
	for _, k := range []ExchangeKind{"", "exchange", "Fee"} {
		x := Exchange{Kind: k, CustomerID: 1, WorkerID: 2, GroupID: 1, Amount: d("1")}
		assert.Equal(t, []string{"kind"}, fields(x.Validate()), "kind %q", k)
	}
	for _, k := range []ExchangeKind{KindExchange, KindExchangeAndFee} {
		x := Exchange{Kind: k, CustomerID: 1, WorkerID: 2, GroupID: 1, Amount: d("1")}
		assert.NoError(t, x.Validate().Err(), "kind %q", k)
	}
}

func TestMembershipStatusJSON(t *testing.T) {
	in := Membership{ID: 4, PersonID: 1, GroupID: 2, Status: MembershipPending, Roles: Roles(RoleIndividual, RoleAdmin)}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"pending"`)

	var out Membership
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, MembershipPending, out.Status)
	assert.False(t, out.Accepted())
	assert.Equal(t, in.Roles, out.Roles)

	require.NoError(t, json.Unmarshal([]byte(`{"status":"accepted"}`), &out))
	assert.True(t, out.Accepted())

	assert.Error(t, json.Unmarshal([]byte(`{"status":"bogus"}`), &out))
}

func TestExchangeIsFee(t *testing.T) {
	assert.True(t, (&Exchange{Notes: "reserve fee"}).IsFee())
	assert.True(t, (&Exchange{Notes: "monthly recurring fee"}).IsFee())
	assert.False(t, (&Exchange{Notes: "gardening"}).IsFee())
}

func TestMetadataValid(t *testing.T) {
	assert.True(t, OfferRef(1).Valid())
	assert.True(t, RequestRef(1).Valid())
	assert.True(t, ExchangeRef(1).Valid())
	assert.False(t, Metadata{}.Valid())
	assert.False(t, Metadata{Kind: "Topic", ID: 1}.Valid())
	assert.False(t, OfferRef(0).Valid())
}

func TestParseRolesRejectsUnknownNames(t *testing.T) {
	set, err := ParseRoles([]string{"admin", "point_of_sale_operator"})
	require.NoError(t, err)
	assert.True(t, set.Has(RoleAdmin))
	assert.True(t, set.Has(RolePointOfSaleOperator))
	assert.False(t, set.Has(RoleIndividual))
	assert.Equal(t, []string{"admin", "point_of_sale_operator"}, set.Names())

	_, err = ParseRoles([]string{"admin", "superuser", "root"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestRoleSetMaskRoundTrip(t *testing.T) {
	set := Roles(RoleIndividual, RoleOrg)
	assert.Equal(t, set, RoleSetFromMask(set.Mask()))
	assert.Equal(t, Roles(RoleIndividual), RoleSetFromMask(1|1<<7), "unknown bits are dropped")
	assert.Equal(t, Roles(RoleOrg), set.Without(RoleIndividual))

	raw, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `["individual","org"]`, string(raw))
}

func TestMembershipAccept(t *testing.T) {
	m := Membership{Status: MembershipPending, Roles: Roles(RoleModerator)}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, m.Accept(at))
	assert.True(t, m.Accepted())
	assert.True(t, m.Is(RoleIndividual))
	assert.True(t, m.Is(RoleModerator))
	assert.Equal(t, at, *m.AcceptedAt)

	assert.ErrorIs(t, m.Accept(at), ErrInvalidTransition, "accepted never goes back through acceptance")
}

func TestFeeCharge(t *testing.T) {
	percent := Fee{Kind: PercentTransactionFee, Percent: d("0.015")}
	fixed := Fee{Kind: FixedTransactionFee, Amount: d("0.333")}
	monthly := Fee{Kind: RecurringFee, Amount: d("5"), Interval: IntervalMonth}

	assert.True(t, percent.Charge(d("10")).Equal(d("0.15")))
	assert.True(t, percent.Charge(d("1")).Equal(d("0.02")), "rounded to cents")
	assert.True(t, fixed.Charge(d("100")).Equal(d("0.33")))
	assert.Equal(t, "monthly recurring fee", monthly.Notes())
	assert.Equal(t, "percent transaction fee", percent.Notes())
}

func TestFeeValidate(t *testing.T) {
	stripe := Fee{Kind: FixedTransactionStripeFee, Amount: d("0.4")}
	assert.Contains(t, fields(stripe.Validate()), "amount")

	recurring := Fee{Kind: RecurringFee, Amount: d("1"), RecipientID: 1}
	assert.Equal(t, []string{"interval"}, fields(recurring.Validate()))

	ok := Fee{Kind: PercentTransactionFee, Percent: d("0.1"), RecipientID: 1}
	assert.True(t, ok.Validate().Empty())
}

func TestFeePlanSelectors(t *testing.T) {
	plan := FeePlan{Name: "standard", Fees: []Fee{
		{Kind: FixedTransactionFee, Amount: d("1"), RecipientID: 1},
		{Kind: PercentTransactionStripeFee, Percent: d("0.03")},
		{Kind: RecurringFee, Amount: d("2"), Interval: IntervalMonth, RecipientID: 1},
		{Kind: RecurringFee, Amount: d("20"), Interval: IntervalYear, RecipientID: 1},
	}}

	assert.True(t, plan.ContainsStripeFees())
	assert.Len(t, plan.AllFees(), 4)
	assert.Len(t, plan.TransactionFees(), 1)
	assert.Len(t, plan.RecurringFees(IntervalMonth), 1)
	assert.Len(t, plan.RecurringFees(IntervalYear), 1)
	assert.True(t, plan.Validate().Empty())
}

func TestCapabilityPermits(t *testing.T) {
	now := time.Now()
	c := Capability{
		PersonID:      7,
		Action:        ActionSinglePayment,
		Asset:         "hours",
		AmountCeiling: decimal.NewNullDecimal(d("10")),
	}

	assert.NoError(t, c.Permits(7, "hours", d("10")))
	assert.True(t, c.SingleUse())

	for name, err := range map[string]error{
		"other person": c.Permits(8, "hours", d("1")),
		"other asset":  c.Permits(7, "euro", d("1")),
		"over ceiling": c.Permits(7, "hours", d("10.01")),
	} {
		assert.ErrorIs(t, err, ErrForbidden, name)
	}

	c.InvalidatedAt = &now
	assert.ErrorIs(t, c.Permits(7, "hours", d("1")), ErrForbidden)

	listing := Capability{PersonID: 7, Action: ActionListPayments}
	assert.ErrorIs(t, listing.Permits(7, "hours", d("1")), ErrForbidden)
}

func TestErrorTaxonomy(t *testing.T) {
	ibe := &InsufficientBalanceError{Available: d("0.5"), Requested: d("1")}
	denied := &AuthorizationError{Reason: "over balance", Err: ibe}
	assert.ErrorIs(t, denied, ErrForbidden)
	assert.ErrorIs(t, denied, ErrInsufficientBalance)

	abort := &TransactionAbortError{Err: errors.New("40001")}
	assert.ErrorIs(t, abort, ErrTransactionAborted)

	fee := &FeeApplicationError{ExchangeID: 9, Errs: []error{ibe}}
	assert.ErrorIs(t, fee, ErrFeeApplication)
	assert.ErrorIs(t, fee, ErrInsufficientBalance)

	ve := &ValidationError{}
	assert.NoError(t, ve.Err())
	ve.AddErr("amount", ibe)
	assert.ErrorIs(t, ve.Err(), ErrInsufficientBalance)
	assert.Contains(t, ve.Error(), "amount insufficient balance")
}
