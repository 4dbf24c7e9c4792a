package entity

import (
	"net/http"
	"ordersync/internal/lib/validate"
)

// WebhookEvent asks for one order to be fetched and reconciled right away.
type WebhookEvent struct {
	Shop    string `json:"shop" validate:"required"`
	OrderId string `json:"order_id" validate:"required"`
}

func (w *WebhookEvent) Bind(_ *http.Request) error {
	return validate.Struct(w)
}

// UserAuth identifies the caller of the API.
type UserAuth struct {
	Name  string `json:"name" validate:"omitempty"`
	Token string `json:"token" validate:"required,min=1"`
}

func (u *UserAuth) Bind(_ *http.Request) error {
	return validate.Struct(u)
}
