package fakeapi

import (
	"encoding/json"
	"fmt"
	"time"
)

var (
	companies  = []string{"Acme Corp", "Globex", "Initech", "Umbrella, Inc.", "Stark Industries", "Wayne Enterprises"}
	statuses   = []string{"paid", "pending", "refunded", "cancelled"}
	currencies = []string{"USD", "EUR", "GBP"}
	epoch      = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Item is the JSON body served for an id. Field order matches the CSV columns.
type Item struct {
	OrderID   string      `json:"order_id"`
	AccountID int         `json:"account_id"`
	Company   string      `json:"company"`
	Status    string      `json:"status"`
	Currency  string      `json:"currency"`
	Subtotal  json.Number `json:"subtotal"`
	Tax       json.Number `json:"tax"`
	Total     json.Number `json:"total"`
	CreatedAt string      `json:"created_at"`
}

// NewItem derives the item for id. The same id always yields the same item.
func NewItem(id int) Item {
	cents := 1000 + (id*7919)%99000
	tax := cents * 8 / 100
	return Item{
		OrderID:   fmt.Sprintf("ORD-%06d", id),
		AccountID: 10000 + (id*31)%5000,
		Company:   companies[id%len(companies)],
		Status:    statuses[id%len(statuses)],
		Currency:  currencies[id%len(currencies)],
		Subtotal:  money(cents),
		Tax:       money(tax),
		Total:     money(cents + tax),
		CreatedAt: epoch.Add(time.Duration(id) * 37 * time.Minute).Format(time.RFC3339),
	}
}

func money(cents int) json.Number {
	return json.Number(fmt.Sprintf("%d.%02d", cents/100, cents%100))
}
