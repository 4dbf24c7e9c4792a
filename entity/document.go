package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type DocumentType string

const (
	DocumentClientOrder   DocumentType = "Заказ Клиента"
	DocumentSupplierOrder DocumentType = "Заказ поставщику"
	DocumentGoodsReceipt  DocumentType = "Поступление товаров и услуг"
	DocumentGoodsReturn   DocumentType = "Возврат товаров поставщику"
)

const (
	ActionCreateBuyerOrder    = "create_buyer_order"
	ActionCreateSupplierOrder = "create_supplier_order"
	ActionUpdateSupplierOrder = "update_supplier_order"
	ActionCreateGoodsReceipt  = "create_postupleniye_tovarov"
	ActionCreateGoodsReturn   = "create_return_tovarov"
)

// Accounting catalog items used for commission documents
const (
	SkuCommission         = "Commission_Prosale"
	SkuCommissionDelivery = "Commission_Prosale_free_delivery"
	SkuCommissionOrder    = "Commission_Prosale_for_order"

	TrackingSentByCar = "00000000000000"
)

var commissionProducts = map[CommissionKind]Product{
	CommissionCpa:      {Sku: SkuCommission, Name: "Комиссия просейл", Quantity: 1},
	CommissionDelivery: {Sku: SkuCommissionDelivery, Name: "Комиссия просейл доставка", Quantity: 1},
	CommissionOrder:    {Sku: SkuCommissionOrder, Name: "Комиссия просейл за заказ", Quantity: 1},
}

// CommissionSuffix is appended to the order id to key each commission document.
var CommissionSuffix = map[CommissionKind]string{
	CommissionCpa:      "",
	CommissionDelivery: "_fd",
	CommissionOrder:    "_oc",
}

func CommissionProduct(kind CommissionKind, amount decimal.Decimal) Product {
	p := commissionProducts[kind]
	p.Price = amount
	return p
}

// OutboxDocument is one unit of work for the accounting system.
type OutboxDocument struct {
	Action         string       `json:"action"`
	DocumentType   DocumentType `json:"document_type"`
	Posted         bool         `json:"posted"`
	ExternalId     string       `json:"external_id"`
	ParentId       string       `json:"parent_id,omitempty"`
	Shop           string       `json:"shop,omitempty"`
	Manager        string       `json:"manager,omitempty"`
	ManagerComment string       `json:"manager_comment,omitempty"`
	Products       []Product    `json:"products,omitempty"`
	Buyer          *Buyer       `json:"buyer,omitempty"`
	Shipping       *Shipping    `json:"shipping,omitempty"`
	Payment        string       `json:"payment,omitempty"`
	Supplier       string       `json:"supplier,omitempty"`
	SupplierId     string       `json:"supplier_id,omitempty"`
	TrackingCode   string       `json:"tracking_code,omitempty"`
}

func (d *OutboxDocument) IsRoot() bool {
	return d.DocumentType == DocumentClientOrder
}

func (d *OutboxDocument) Record() *DocumentRecord {
	return &DocumentRecord{
		ExternalId:   d.ExternalId,
		DocumentType: d.DocumentType,
		ParentId:     d.ParentId,
		TrackingCode: d.TrackingCode,
		SupplierId:   d.SupplierId,
	}
}

func (d *OutboxDocument) String() string {
	return d.Action + ":" + d.ExternalId
}

// DocumentRecord marks a document as emitted; unique on (ExternalId, DocumentType).
type DocumentRecord struct {
	ExternalId   string       `json:"external_id"`
	DocumentType DocumentType `json:"document_type"`
	ParentId     string       `json:"parent_id,omitempty"`
	TrackingCode string       `json:"tracking_code,omitempty"`
	SupplierId   string       `json:"supplier_id,omitempty"`
}

// OutboxEntry is a serialized document waiting to be handed to accounting.
type OutboxEntry struct {
	DocumentId string     `json:"document_id"`
	ExternalId string     `json:"external_id"`
	Action     string     `json:"action"`
	Payload    []byte     `json:"payload"`
	Created    time.Time  `json:"created"`
	Delivered  *time.Time `json:"delivered,omitempty"`
}
