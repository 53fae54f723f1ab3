package models

import (
	"database/sql/driver"

	"github.com/lib/pq"
)

// StringArray is a Postgres text[] column.
type StringArray []string

// Value encodes the array in Postgres literal form.
func (a StringArray) Value() (driver.Value, error) {
	return pq.StringArray(a).Value()
}

// Scan decodes a Postgres text[] literal.
func (a *StringArray) Scan(src interface{}) error {
	var raw pq.StringArray
	if err := raw.Scan(src); err != nil {
		return err
	}
	*a = StringArray(raw)
	return nil
}
