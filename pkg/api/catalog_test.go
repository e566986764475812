package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sellhub/pkg/catalog"
)

func TestListOffersActiveFilter(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.offers["retired"] = &catalog.Offer{ID: 21, ProductID: 10, ProducerID: 1, Slug: "retired", Currency: "USD", PriceCents: 4900}
	env.catalog.offers["other-seller"] = &catalog.Offer{ID: 22, ProductID: 11, ProducerID: 2, Slug: "other-seller", Active: true, Currency: "USD", PriceCents: 100}

	slugs := func(query string) []string {
		rec := env.do(http.MethodGet, "/api/v1/offers"+query, "sh_reader", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var offers []*catalog.Offer
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &offers))
		var out []string
		for _, o := range offers {
			out = append(out, o.Slug)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"go-course", "retired"}, slugs(""))
	assert.Equal(t, []string{"go-course"}, slugs("?active=true"))
	assert.Equal(t, []string{"retired"}, slugs("?active=false"))

	rec := env.do(http.MethodGet, "/api/v1/offers?active=maybe", "sh_reader", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOfferPriceErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"negative offer price", http.MethodPatch, "/api/v1/offers/20", `{"price_cents":-1}`, http.StatusBadRequest},
		{"negative bump price", http.MethodPatch, "/api/v1/offers/20/bumps/1", `{"price_cents":-1}`, http.StatusBadRequest},
		{"offer price over the maximum", http.MethodPost, "/api/v1/offers",
			`{"product_id":10,"slug":"too-much","title":"Too much","price_cents":1000000000001,"currency":"USD"}`,
			http.StatusUnprocessableEntity},
		{"valid offer", http.MethodPost, "/api/v1/offers",
			`{"product_id":10,"slug":"go-course-pro","title":"Pro","price_cents":19900,"currency":"USD"}`,
			http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.path, "sh_writer", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
	assert.NotContains(t, env.catalog.offers, "too-much")
}
