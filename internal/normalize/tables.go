package normalize

import "ordersync/entity"

// CustomFields names the KeyCRM custom fields read into the accounting block.
type CustomFields struct {
	Supplier   string
	SupplierId string
	PushFlag   string
	SentByCar  string
}

// Tables holds every source code to canonical value lookup used by the mappers.
type Tables struct {
	PromStatus     map[string]entity.Status
	HoroshopStatus map[int]entity.Status
	KeyCrmStatus   map[int]entity.Status
	// KeyCRM manager id to accounting manager label
	Managers map[int]string
	// KeyCRM payment method id to accounting payment label
	Payments map[int]string
	// payment labels that mean the order was paid by card
	CardPayments []string
	// KeyCRM source id to accounting shop label
	Shops  map[int]string
	Fields CustomFields
}

func DefaultTables() Tables {
	return Tables{
		PromStatus: map[string]entity.Status{
			"pending":   entity.StatusNew,
			"received":  entity.StatusAccepted,
			"delivered": entity.StatusSuccess,
			"canceled":  entity.StatusCancelled,
			"paid":      entity.StatusPaid,
			"draft":     entity.StatusDraft,
		},
		HoroshopStatus: map[int]entity.Status{
			1: entity.StatusNew,
			2: entity.StatusAccepted,
			3: entity.StatusSuccess,
			4: entity.StatusCancelled,
			6: entity.StatusDispatched,
		},
		KeyCrmStatus: map[int]entity.Status{
			1: entity.StatusNew,
			2: entity.StatusAccepted,
			3: entity.StatusProduction,
			4: entity.StatusDispatched,
			5: entity.StatusSuccess,
			6: entity.StatusCancelled,
		},
		Managers: map[int]string{},
		Payments: map[int]string{
			1:  "Оплачено",
			3:  "Выслан счёт",
			8:  "Выслан счёт",
			7:  "Промоплата",
			16: "Промоплата",
			6:  "НК (наложка на компанию)",
			25: "НК (наложка на компанию)",
			29: "НК (наложка на компанию)",
			11: "Ликпей",
			35: "WayForPay",
			36: "WayForPay",
		},
		CardPayments: []string{"Промоплата", "Ликпей", "WayForPay"},
		Shops:        map[int]string{},
		Fields: CustomFields{
			Supplier:   "Постачальник",
			SupplierId: "Номер постачальника",
			PushFlag:   "Заказ 1С",
			SentByCar:  "Відправлено машиною",
		},
	}
}

// WithLabels overrides the accounting label maps with configured ones; empty values keep the defaults.
func (t Tables) WithLabels(managers, payments, shops map[int]string, cardPayments []string) Tables {
	if len(managers) > 0 {
		t.Managers = managers
	}
	if len(payments) > 0 {
		t.Payments = payments
	}
	if len(shops) > 0 {
		t.Shops = shops
	}
	if len(cardPayments) > 0 {
		t.CardPayments = cardPayments
	}
	return t
}

func (t Tables) isCardPayment(label string) bool {
	for _, c := range t.CardPayments {
		if c == label {
			return true
		}
	}
	return false
}
