// Package record defines the item record persisted by the harvester and
// the column schema of the output store.
package record

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Column names in on-disk order.
const (
	ColumnOrderID   = "order_id"
	ColumnAccountID = "account_id"
	ColumnCompany   = "company"
	ColumnStatus    = "status"
	ColumnCurrency  = "currency"
	ColumnSubtotal  = "subtotal"
	ColumnTax       = "tax"
	ColumnTotal     = "total"
	ColumnCreatedAt = "created_at"
)

// Columns is the schema header of the output store.
var Columns = []string{
	ColumnOrderID,
	ColumnAccountID,
	ColumnCompany,
	ColumnStatus,
	ColumnCurrency,
	ColumnSubtotal,
	ColumnTax,
	ColumnTotal,
	ColumnCreatedAt,
}

var (
	// ErrInvalidBody is returned when a response body is not a JSON object.
	ErrInvalidBody = errors.New("invalid record body")

	// ErrMissingField is returned when a required field is absent from the body.
	ErrMissingField = errors.New("missing record field")
)

// Record is a successfully fetched item. Every field keeps the JSON literal
// it arrived with; nothing is coerced.
type Record struct {
	OrderID   Value
	AccountID Value
	Company   Value
	Status    Value
	Currency  Value
	Subtotal  Value
	Tax       Value
	Total     Value
	CreatedAt Value
}

// Parse builds a Record from a response body. The body must be a JSON
// object carrying every column; a column may be null.
func Parse(body []byte) (Record, error) {
	if !gjson.ValidBytes(body) {
		return Record{}, fmt.Errorf("%w: malformed JSON", ErrInvalidBody)
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return Record{}, fmt.Errorf("%w: expected object, got %s", ErrInvalidBody, doc.Type)
	}

	values := make([]Value, len(Columns))
	for i, col := range Columns {
		field := doc.Get(col)
		if !field.Exists() {
			return Record{}, fmt.Errorf("%w: %s", ErrMissingField, col)
		}
		values[i] = valueOf(field)
	}
	return fromValues(values), nil
}

// New builds a Record from values given in column order.
func New(values ...Value) (Record, error) {
	if len(values) != len(Columns) {
		return Record{}, fmt.Errorf("record needs %d values, got %d", len(Columns), len(values))
	}
	return fromValues(values), nil
}

func fromValues(v []Value) Record {
	return Record{
		OrderID:   v[0],
		AccountID: v[1],
		Company:   v[2],
		Status:    v[3],
		Currency:  v[4],
		Subtotal:  v[5],
		Tax:       v[6],
		Total:     v[7],
		CreatedAt: v[8],
	}
}

// Values returns the fields in column order.
func (r Record) Values() []Value {
	return []Value{
		r.OrderID,
		r.AccountID,
		r.Company,
		r.Status,
		r.Currency,
		r.Subtotal,
		r.Tax,
		r.Total,
		r.CreatedAt,
	}
}

// Row renders the record as CSV cells in column order.
func (r Record) Row() []string {
	values := r.Values()
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = v.String()
	}
	return row
}
