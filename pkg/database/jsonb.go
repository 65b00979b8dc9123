package database

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB maps a jsonb column onto T. Decoding keeps numbers as json.Number when
// T holds interface values, so exact decimals survive a round trip.
type JSONB[T any] struct {
	Data T
}

func NewJSONB[T any](data T) JSONB[T] {
	return JSONB[T]{Data: data}
}

func (p *JSONB[T]) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("JSONB.Scan: expected []byte, got %T", src)
	}

	decoder := json.NewDecoder(bytes.NewReader(b))
	decoder.UseNumber()
	return decoder.Decode(&p.Data)
}

func (p JSONB[T]) Value() (driver.Value, error) {
	return json.Marshal(p.Data)
}

func (p *JSONB[T]) GetValue() T {
	return p.Data
}
