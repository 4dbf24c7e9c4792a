package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersync/entity"
)

func decode(t *testing.T, s string) entity.RawOrder {
	t.Helper()
	dec := json.NewDecoder(bytes.NewBufferString(s))
	dec.UseNumber()
	var raw entity.RawOrder
	require.NoError(t, dec.Decode(&raw))
	return raw
}

func testNormalizer() *Normalizer {
	tables := DefaultTables().WithLabels(
		map[int]string{4: "Мен. № 2 - Ирина Т."},
		nil,
		map[int]string{2: "УкрСтиль"},
		nil,
	)
	return New(tables, "UA")
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNormalize_Prom(t *testing.T) {
	raw := decode(t, `{
		"id": 100,
		"status": "delivered",
		"date_created": "2024-05-01T10:15:00.000000+03:00",
		"price": "1 250,50 грн",
		"cpa_commission": {"amount": "50.00", "is_refunded": true},
		"has_order_promo_free_delivery": true,
		"ps_promotion": {"conditions": ["Безкоштовна доставка: 59.5 грн — продавец"]},
		"client_first_name": " олена ",
		"client_second_name": "ІВАНІВНА",
		"client_last_name": "коваль",
		"phone": "067 123 45 67",
		"email": "Olena@Example.com",
		"client_notes": "call first",
		"delivery_address": "Kyiv, NP 12",
		"products": [{"sku": "A-1", "name": "Фен", "price": "1 250,50 грн", "quantity": 1}]
	}`)

	order, err := testNormalizer().Normalize(entity.SourceProm, "ukrstil-prom", raw)
	require.NoError(t, err)

	assert.Equal(t, "100", order.ExternalId)
	assert.Equal(t, entity.SourceProm, order.Source)
	assert.Equal(t, "ukrstil-prom", order.Shop)
	assert.Equal(t, entity.StatusSuccess, order.Status)
	assert.True(t, order.TotalPrice.Equal(dec("1250.50")))
	assert.True(t, order.CpaCommission.Equal(dec("50")))
	assert.True(t, order.CpaRefunded)
	assert.True(t, order.DeliveryCommission.Equal(dec("59.5")))
	assert.True(t, order.OrderCommission.IsZero())
	assert.Equal(t, "Коваль Олена Іванівна", order.Buyer.FullName)
	assert.Equal(t, "+380671234567", order.Buyer.Phone)
	assert.Equal(t, "olena@example.com", order.Buyer.Email)
	assert.Equal(t, "Kyiv, NP 12", order.Shipping.Address)
	assert.Equal(t, 2024, order.Created.Year())
	require.Len(t, order.Products, 1)
	assert.Equal(t, "A-1", order.Products[0].Sku)
	assert.Nil(t, order.Accounting)
	assert.Empty(t, order.Warnings)
}

func TestNormalize_PromStatuses(t *testing.T) {
	tests := []struct {
		code     string
		expected entity.Status
	}{
		{"pending", entity.StatusNew},
		{"received", entity.StatusAccepted},
		{"delivered", entity.StatusSuccess},
		{"canceled", entity.StatusCancelled},
		{"paid", entity.StatusPaid},
		{"draft", entity.StatusDraft},
		{"something_new", entity.StatusOther},
		{"", entity.StatusOther},
	}

	n := testNormalizer()
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			order, err := n.Normalize(entity.SourceProm, "shop", entity.RawOrder{"id": json.Number("1"), "status": tt.code})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, order.Status)
		})
	}
}

func TestNormalize_PromFreeDeliveryWithoutAmount(t *testing.T) {
	raw := decode(t, `{"id": 7, "status": "pending", "has_order_promo_free_delivery": true,
		"ps_promotion": {"conditions": ["promo text"]}}`)

	order, err := testNormalizer().Normalize(entity.SourceProm, "shop", raw)
	require.NoError(t, err)
	assert.True(t, order.DeliveryCommission.IsZero())
	assert.Len(t, order.Warnings, 1)
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name       string
		source     entity.Source
		raw        string
		externalId string
	}{
		{"prom without id", entity.SourceProm, `{"status": "pending"}`, ""},
		{"prom id of wrong shape", entity.SourceProm, `{"id": {"x": 1}}`, ""},
		{"prom negative price", entity.SourceProm, `{"id": 5, "price": -10}`, "5"},
		{"prom bad commission", entity.SourceProm, `{"id": 6, "cpa_commission": {"amount": true}}`, "6"},
		{"prom product without name", entity.SourceProm, `{"id": 8, "products": [{"sku": "x", "price": 1, "quantity": 1}]}`, "8"},
		{"prom fractional quantity", entity.SourceProm, `{"id": 9, "products": [{"name": "x", "quantity": 1.5}]}`, "9"},
		{"horoshop without order_id", entity.SourceHoroshop, `{"stat_status": 1}`, ""},
		{"keycrm without id", entity.SourceKeyCrm, `{"status_group_id": 1}`, ""},
	}

	n := testNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := n.Normalize(tt.source, "shop", decode(t, tt.raw))
			assert.Nil(t, order)

			var malformedErr *entity.MalformedOrder
			require.True(t, errors.As(err, &malformedErr), "got %v", err)
			assert.Equal(t, tt.externalId, malformedErr.ExternalId)
		})
	}
}

func TestNormalize_UnknownSource(t *testing.T) {
	_, err := testNormalizer().Normalize("ozon", "shop", entity.RawOrder{"id": "1"})
	require.Error(t, err)
	var malformedErr *entity.MalformedOrder
	assert.False(t, errors.As(err, &malformedErr))
}

func TestNormalize_Horoshop(t *testing.T) {
	raw := decode(t, `{
		"order_id": 555,
		"stat_status": 6,
		"total_sum": 820,
		"stat_created": "2024-06-10 08:30:00",
		"delivery_name": "  петренко   ОЛЕГ ",
		"delivery_phone": "80501234567",
		"delivery_email": "broken@",
		"comment": "",
		"delivery_address": "Lviv",
		"products": [{"article": "B-2", "title": "Гребінець", "price": 410, "quantity": "2"}]
	}`)

	order, err := testNormalizer().Normalize(entity.SourceHoroshop, "beauty", raw)
	require.NoError(t, err)

	assert.Equal(t, "555", order.ExternalId)
	assert.Equal(t, entity.StatusDispatched, order.Status)
	assert.True(t, order.TotalPrice.Equal(dec("820")))
	assert.Equal(t, "Петренко Олег", order.Buyer.FullName)
	assert.Equal(t, "+380501234567", order.Buyer.Phone)
	assert.Empty(t, order.Buyer.Email)
	assert.Equal(t, 8, order.Created.Hour())
	require.Len(t, order.Products, 1)
	assert.Equal(t, "B-2", order.Products[0].Sku)
	assert.Equal(t, "Гребінець", order.Products[0].Name)
	assert.Equal(t, 2, order.Products[0].Quantity)
}

func TestNormalize_HoroshopUnknownStatus(t *testing.T) {
	order, err := testNormalizer().Normalize(entity.SourceHoroshop, "beauty",
		entity.RawOrder{"order_id": json.Number("1"), "stat_status": json.Number("99")})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusOther, order.Status)
}

const keyCrmOrder = `{
	"id": 9001,
	"parent_id": null,
	"source_id": 2,
	"source_uuid": "100",
	"status_group_id": 2,
	"manager": {"id": 4},
	"manager_comment": "urgent",
	"grand_total": 310.5,
	"total_discount": 10,
	"created_at": "2024-07-01 12:00:00",
	"buyer": {"full_name": "Коваль Олена", "phone": "0671234567", "email": "", "has_duplicates": 0},
	"shipping": {"full_address": "Kyiv", "recipient_full_name": "Коваль Олена", "recipient_phone": "+380671234567", "tracking_code": "123"},
	"products": [
		{"sku": "A-1", "name": "Фен", "price_sold": 200.25, "purchased_price": 150, "quantity": 1},
		{"sku": "A-2", "name": "Гребінець", "price_sold": 60.25, "purchased_price": 40, "quantity": 2}
	],
	"custom_fields": [
		{"name": "Постачальник", "value": ["Склад Київ"]},
		{"name": "Номер постачальника", "value": "SUP-7"},
		{"name": "Заказ 1С", "value": true}
	],
	"payments": [
		{"payment_method_id": 6, "status": "not_paid"},
		{"payment_method_id": 1, "status": "paid"}
	]
}`

func TestNormalize_KeyCrm(t *testing.T) {
	order, err := testNormalizer().Normalize(entity.SourceKeyCrm, "crm", decode(t, keyCrmOrder))
	require.NoError(t, err)

	assert.Equal(t, "9001", order.ExternalId)
	assert.Equal(t, entity.StatusAccepted, order.Status)
	assert.True(t, order.Pushable())

	acc := order.Accounting
	require.NotNil(t, acc)
	assert.Empty(t, acc.ParentId)
	assert.Equal(t, "100", acc.SourceOrderId)
	assert.Equal(t, "УкрСтиль", acc.Shop)
	assert.Equal(t, "Мен. № 2 - Ирина Т.", acc.Manager)
	assert.Equal(t, "urgent", acc.ManagerComment)
	assert.Equal(t, "Склад Київ", acc.Supplier)
	assert.Equal(t, "SUP-7", acc.SupplierId)
	assert.Empty(t, acc.TrackingCode, "short tracking codes are dropped")
	assert.Equal(t, "Оплачено", acc.Payment)
	assert.False(t, acc.PaidByCard)

	// recipient equal to the buyer is cleared
	assert.Empty(t, order.Shipping.RecipientName)
	assert.Empty(t, order.Shipping.RecipientPhone)

	// discount 10 goes to the 200.25 product, then kopecks are rounded away
	require.Len(t, order.Products, 2)
	assert.True(t, order.Products[0].Price.Equal(dec("190")), "got %s", order.Products[0].Price)
	assert.True(t, order.Products[1].Price.Equal(dec("60.5")), "got %s", order.Products[1].Price)
	assert.True(t, acc.PricesRounded)

	require.Len(t, acc.SupplierProducts, 2)
	assert.True(t, acc.SupplierProducts[0].Price.Equal(dec("150")))
}

func TestNormalize_KeyCrmPaidByCard(t *testing.T) {
	raw := decode(t, keyCrmOrder)
	raw["payments"] = []any{
		map[string]any{"payment_method_id": json.Number("1"), "status": "paid"},
		map[string]any{"payment_method_id": json.Number("11"), "status": "paid"},
	}
	raw["custom_fields"] = []any{
		map[string]any{"name": "Відправлено машиною", "value": true},
	}

	order, err := testNormalizer().Normalize(entity.SourceKeyCrm, "crm", raw)
	require.NoError(t, err)

	acc := order.Accounting
	assert.True(t, acc.PaidByCard)
	assert.Equal(t, "Ликпей", acc.Payment)
	assert.Equal(t, entity.TrackingSentByCar, acc.TrackingCode)
	assert.False(t, acc.PricesRounded)
	assert.False(t, order.Pushable(), "push flag is not set")
	assert.True(t, order.Products[1].Price.Equal(dec("60.25")))
}

func TestRoundPrices(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		quantity int
		expected string
		rounded  bool
	}{
		{"whole line untouched", "10.50", 2, "10.5", false},
		{"odd quantity rounds unit price", "10.50", 1, "11", true},
		{"odd quantity rounds down", "10.49", 3, "10", true},
		{"even quantity rounds line", "10.25", 2, "10.5", true},
		{"zero quantity skipped", "10.25", 0, "10.25", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products := []entity.Product{{Name: "x", Price: dec(tt.price), Quantity: tt.quantity}}
			assert.Equal(t, tt.rounded, roundPrices(products))
			assert.True(t, products[0].Price.Equal(dec(tt.expected)), "got %s", products[0].Price)
		})
	}
}

func TestExternalId(t *testing.T) {
	assert.Equal(t, "12", ExternalId(entity.SourceProm, entity.RawOrder{"id": json.Number("12")}))
	assert.Equal(t, "34", ExternalId(entity.SourceHoroshop, entity.RawOrder{"order_id": "34"}))
	assert.Equal(t, "", ExternalId(entity.SourceKeyCrm, entity.RawOrder{}))
}
