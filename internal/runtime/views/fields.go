// Package views holds the in-memory view models rendered on the status page.
// Each model exposes one mutation entry point, ProcessMessage, guarded by the
// model's own lock so a render never observes half of an update.
package views

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrMalformedRecord marks records whose value is not a usable document.
	ErrMalformedRecord = errors.New("transitboard: malformed record")
	// ErrUnrecognizedRecord marks records no view model knows how to apply.
	ErrUnrecognizedRecord = errors.New("transitboard: unrecognized record")
	// ErrUnknownStation marks records referencing a station no line carries.
	ErrUnknownStation = errors.New("transitboard: unknown station")
	// ErrUnknownLine marks records for a line colour that is not tracked.
	ErrUnknownLine = errors.New("transitboard: unknown line")
)

// document parses a record value and insists on a JSON object.
func document(raw []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: invalid JSON", ErrMalformedRecord)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: expected an object", ErrMalformedRecord)
	}
	return doc, nil
}

// field reads name from doc, unwrapping Avro union encodings such as
// {"int": 5} into the plain value.
func field(doc gjson.Result, name string) gjson.Result {
	res := doc.Get(name)
	if !res.IsObject() {
		return res
	}
	var inner gjson.Result
	count := 0
	res.ForEach(func(_, value gjson.Result) bool {
		inner = value
		count++
		return count < 2
	})
	if count == 1 {
		return inner
	}
	return res
}

func requireField(doc gjson.Result, name string) (gjson.Result, error) {
	res := field(doc, name)
	if !res.Exists() || res.Type == gjson.Null {
		return res, fmt.Errorf("%w: missing %s", ErrMalformedRecord, name)
	}
	return res, nil
}

func requireNumber(doc gjson.Result, name string) (gjson.Result, error) {
	res, err := requireField(doc, name)
	if err != nil {
		return res, err
	}
	if res.Type != gjson.Number {
		return res, fmt.Errorf("%w: %s is not a number", ErrMalformedRecord, name)
	}
	return res, nil
}

func requireString(doc gjson.Result, name string) (string, error) {
	res, err := requireField(doc, name)
	if err != nil {
		return "", err
	}
	if res.Type != gjson.String || res.Str == "" {
		return "", fmt.Errorf("%w: %s is not a string", ErrMalformedRecord, name)
	}
	return res.Str, nil
}
