package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/commonledger/internal/domain"
	"github.com/punchamoorthee/commonledger/internal/logging"
	"github.com/punchamoorthee/commonledger/internal/models"
	"github.com/punchamoorthee/commonledger/internal/service"
	"github.com/punchamoorthee/commonledger/internal/store"
)

type apiEnv struct {
	t                 *testing.T
	srv               *httptest.Server
	st                *store.Store
	alice, bob, carol int64
	group             domain.Group
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	ctx := context.Background()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logging.New(io.Discard, "development", slog.LevelError)
	prefs := service.Preferences{}
	exchanges := service.NewExchangeService(st, service.Policy{}, nil, prefs, log)
	memberships := service.NewMembershipService(st, nil, prefs, log)
	groups := service.NewGroupService(st, log)

	e := &apiEnv{t: t, st: st}
	ids := make([]int64, 3)
	for i, name := range []string{"Alice", "Bob", "Carol"} {
		p := domain.Person{Name: name}
		require.NoError(t, st.CreatePerson(ctx, &p))
		ids[i] = p.ID
	}
	e.alice, e.bob, e.carol = ids[0], ids[1], ids[2]

	e.group = domain.Group{
		Name:               "Riverside",
		Unit:               "hours",
		Asset:              "hours",
		OwnerID:            e.alice,
		AdhocCurrency:      true,
		DefaultCreditLimit: decimal.NewNullDecimal(decimal.NewFromInt(5)),
	}
	require.NoError(t, groups.Create(ctx, &e.group))
	_, err = memberships.Request(ctx, e.bob, e.group.ID)
	require.NoError(t, err)

	e.srv = httptest.NewServer(NewRouter(NewHandler(exchanges, memberships, groups, log)))
	t.Cleanup(e.srv.Close)
	return e
}

type call struct {
	method, path string
	person       int64
	key          string
	body         string
}

func (e *apiEnv) do(c call) *http.Response {
	e.t.Helper()
	req, err := http.NewRequest(c.method, e.srv.URL+c.path, strings.NewReader(c.body))
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.person != 0 {
		req.Header.Set("X-Person-ID", strconv.FormatInt(c.person, 10))
	}
	if c.key != "" {
		req.Header.Set("Idempotency-Key", c.key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *apiEnv) exchangeBody(worker int64, amount string) string {
	return fmt.Sprintf(`{"worker_id":%d,"group_id":%d,"amount":"%s","notes":"api"}`, worker, e.group.ID, amount)
}

func TestHealth(t *testing.T) {
	e := newAPIEnv(t)
	resp := e.do(call{method: "GET", path: "/health"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = e.do(call{method: "GET", path: "/metrics"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateExchangeEndpoint(t *testing.T) {
	e := newAPIEnv(t)
	body := e.exchangeBody(e.bob, "1.50")

	resp := e.do(call{method: "POST", path: "/api/v1/exchanges", person: e.alice, key: "k-1", body: body})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[models.ExchangeResponse](t, resp)
	assert.Equal(t, fmt.Sprintf("/api/v1/exchanges/%d", created.Exchange.ID), resp.Header.Get("Location"))
	assert.True(t, created.Exchange.Amount.Equal(decimal.RequireFromString("1.5")))
	assert.Len(t, created.Entries, 2)

	t.Run("replay", func(t *testing.T) {
		resp := e.do(call{method: "POST", path: "/api/v1/exchanges", person: e.alice, key: "k-1", body: body})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, "true", resp.Header.Get("Idempotent-Replayed"))
		replayed := decodeBody[models.ExchangeResponse](t, resp)
		assert.Equal(t, created.Exchange.ID, replayed.Exchange.ID)
	})

	t.Run("key reuse with another payload", func(t *testing.T) {
		resp := e.do(call{method: "POST", path: "/api/v1/exchanges", person: e.alice, key: "k-1", body: e.exchangeBody(e.bob, "2")})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("key reuse by another caller", func(t *testing.T) {
		resp := e.do(call{method: "POST", path: "/api/v1/exchanges", person: e.bob, key: "k-1", body: body})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("Idempotent-Replayed"))
	})

	t.Run("fetch", func(t *testing.T) {
		resp := e.do(call{method: "GET", path: fmt.Sprintf("/api/v1/exchanges/%d", created.Exchange.ID)})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decodeBody[models.ExchangeResponse](t, resp)
		assert.Equal(t, e.bob, got.Exchange.WorkerID)
	})

	t.Run("account", func(t *testing.T) {
		resp := e.do(call{method: "GET", path: fmt.Sprintf("/api/v1/groups/%d/accounts/%d", e.group.ID, e.bob)})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		acct := decodeBody[domain.Account](t, resp)
		assert.True(t, acct.Balance.Equal(decimal.RequireFromString("1.5")))

		resp = e.do(call{method: "GET", path: fmt.Sprintf("/api/v1/accounts/%d/entries", acct.ID)})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decodeBody[[]domain.LedgerEntry](t, resp), 1)
	})

	t.Run("destroy", func(t *testing.T) {
		path := fmt.Sprintf("/api/v1/exchanges/%d", created.Exchange.ID)
		resp := e.do(call{method: "DELETE", path: path, person: e.bob})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = e.do(call{method: "DELETE", path: path, person: e.alice})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotNil(t, decodeBody[models.ExchangeResponse](t, resp).Exchange.DeletedAt)

		resp = e.do(call{method: "DELETE", path: path, person: e.alice})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestCreateExchangeErrors(t *testing.T) {
	e := newAPIEnv(t)
	post := func(person int64, key, body string) *http.Response {
		return e.do(call{method: "POST", path: "/api/v1/exchanges", person: person, key: key, body: body})
	}

	assert.Equal(t, http.StatusUnauthorized, post(0, "k", e.exchangeBody(e.bob, "1")).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(e.alice, "", e.exchangeBody(e.bob, "1")).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(e.alice, "k-bad", "{").StatusCode)

	resp := post(e.alice, "k-zero", e.exchangeBody(e.bob, "0"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errBody := decodeBody[models.ErrorResponse](t, resp)
	require.NotEmpty(t, errBody.Details)
	assert.Equal(t, "amount", errBody.Details[0].Field)

	assert.Equal(t, http.StatusUnprocessableEntity, post(e.bob, "k-over", e.exchangeBody(e.alice, "6")).StatusCode,
		"over the credit limit")

	body := fmt.Sprintf(`{"customer_id":%d,"worker_id":%d,"group_id":%d,"amount":"1"}`, e.alice, e.bob, e.group.ID)
	assert.Equal(t, http.StatusForbidden, post(e.bob, "k-charge", body).StatusCode,
		"an individual cannot charge another member")

	assert.Equal(t, http.StatusNotFound, e.do(call{method: "GET", path: "/api/v1/exchanges/999"}).StatusCode)
	assert.Equal(t, http.StatusNotFound, e.do(call{method: "GET", path: "/api/v1/accounts/999/entries"}).StatusCode)
}

func TestMembershipEndpoints(t *testing.T) {
	e := newAPIEnv(t)
	base := fmt.Sprintf("/api/v1/groups/%d/memberships", e.group.ID)

	resp := e.do(call{method: "POST", path: base, person: e.carol, body: `{}`})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	m := decodeBody[domain.Membership](t, resp)
	assert.Equal(t, domain.MembershipAccepted, m.Status)

	resp = e.do(call{method: "POST", path: base, person: e.carol, body: `{}`})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	roles := fmt.Sprintf("%s/%d/roles", base, e.carol)
	resp = e.do(call{method: "PUT", path: roles, person: e.alice, body: `{"roles":["wizard"]}`})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = e.do(call{method: "PUT", path: roles, person: e.bob, body: `{"roles":["admin"]}`})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.do(call{method: "PUT", path: roles, person: e.alice, body: `{"roles":["individual","point_of_sale_operator"]}`})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"individual", "point_of_sale_operator"}, decodeBody[domain.Membership](t, resp).Roles.Names())

	resp = e.do(call{method: "POST", path: fmt.Sprintf("%s/%d/accept", base, e.carol), person: e.carol})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "already accepted")

	resp = e.do(call{method: "DELETE", path: fmt.Sprintf("%s/%d", base, e.carol), person: e.carol})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestGroupSettingEndpoints(t *testing.T) {
	e := newAPIEnv(t)

	limit := fmt.Sprintf("/api/v1/groups/%d/credit-limit", e.group.ID)
	resp := e.do(call{method: "PUT", path: limit, person: e.alice, body: `{"default_credit_limit":"20"}`})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, decodeBody[models.CreditLimitResponse](t, resp).AccountsUpdated)

	resp = e.do(call{method: "PUT", path: limit, person: e.bob, body: `{"default_credit_limit":"1"}`})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	reserve := fmt.Sprintf("/api/v1/groups/%d/accounts/%d/reserve", e.group.ID, e.bob)
	resp = e.do(call{method: "PUT", path: reserve, person: e.alice, body: `{"reserve":true,"reserve_percent":"0.25"}`})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[domain.Account](t, resp).Reserve)

	resp = e.do(call{method: "PUT", path: reserve, person: e.alice, body: `{"reserve":true,"reserve_percent":"2"}`})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
