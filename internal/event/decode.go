package event

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/holiman/uint256"
)

// Decode builds a transaction of type t from its JSON payload. Missing
// amounts decode as zero, like absent ABI words.
func Decode(t TxType, payload []byte) (Tx, error) {
	tx, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, tx); err != nil {
		return nil, fmt.Errorf("decode %s: %w: %v", t, ErrMalformedPayload, err)
	}
	Normalize(tx)
	return tx, nil
}

// Encode returns the canonical JSON payload of tx.
func Encode(tx Tx) ([]byte, error) {
	return json.Marshal(tx)
}

var wordType = reflect.TypeOf((*uint256.Int)(nil))

// Normalize replaces every nil *uint256.Int reachable from tx with zero.
func Normalize(tx Tx) {
	normalize(reflect.ValueOf(tx))
}

func normalize(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer:
		if v.Type() == wordType {
			return
		}
		if !v.IsNil() {
			normalize(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			if !f.CanSet() {
				continue
			}
			if f.Type() == wordType {
				if f.IsNil() {
					f.Set(reflect.ValueOf(new(uint256.Int)))
				}
				continue
			}
			normalize(f)
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return
		}
		for i := 0; i < v.Len(); i++ {
			e := v.Index(i)
			if e.Type() == wordType {
				if e.IsNil() {
					e.Set(reflect.ValueOf(new(uint256.Int)))
				}
				continue
			}
			normalize(e)
		}
	}
}
