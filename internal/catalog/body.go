package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// Body builds the persisted-query request body for op.
func (op Operation) Body(variables any) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	if body, err = sjson.SetBytes(body, "operationName", op.Name); err != nil {
		return nil, fmt.Errorf("catalog: build body: %w", err)
	}
	switch v := variables.(type) {
	case nil:
		body, err = sjson.SetRawBytes(body, "variables", []byte(`{}`))
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("catalog: variables for %s are not valid JSON", op.Name)
		}
		body, err = sjson.SetRawBytes(body, "variables", v)
	default:
		body, err = sjson.SetBytes(body, "variables", v)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: build body: %w", err)
	}
	if body, err = sjson.SetBytes(body, "extensions.persistedQuery.version", 1); err != nil {
		return nil, fmt.Errorf("catalog: build body: %w", err)
	}
	if body, err = sjson.SetBytes(body, "extensions.persistedQuery.sha256Hash", op.Hash); err != nil {
		return nil, fmt.Errorf("catalog: build body: %w", err)
	}
	return body, nil
}
