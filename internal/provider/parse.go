package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseProducts decodes a model completion into raw products. It strips
// code fences, recovers an array embedded in surrounding prose, and
// validates the result against the product schema. An empty array is a
// legitimate response for pages with no products.
func ParseProducts(completion string) ([]RawProduct, error) {
	s := stripFences(completion)
	if s == "" {
		return nil, fmt.Errorf("empty completion")
	}

	if !strings.HasPrefix(s, "[") {
		start := strings.Index(s, "[")
		end := strings.LastIndex(s, "]")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON array in completion")
		}
		s = s[start : end+1]
	}

	var payload interface{}
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil, fmt.Errorf("decoding completion: %w", err)
	}
	if err := validatePayload(payload); err != nil {
		return nil, fmt.Errorf("completion failed validation: %w", err)
	}
	coercePriceStrings(payload)

	bs, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("re-encoding completion: %w", err)
	}
	var products []RawProduct
	if err := json.Unmarshal(bs, &products); err != nil {
		return nil, fmt.Errorf("decoding products: %w", err)
	}
	return products, nil
}

// coercePriceStrings rewrites bare JSON numbers in the price fields as
// strings. The prompt asks for strings, but models drift; the schema
// admits either and normalization parses the text anyway.
func coercePriceStrings(payload interface{}) {
	arr, ok := payload.([]interface{})
	if !ok {
		return
	}
	for _, item := range arr {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		for _, field := range []string{"prezzo", "prezzo_originale"} {
			if n, ok := obj[field].(float64); ok {
				obj[field] = strconv.FormatFloat(n, 'f', -1, 64)
			}
		}
	}
}
