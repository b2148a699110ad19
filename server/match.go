package server

import (
	"reflect"

	"gopkg.in/inconshreveable/log15.v2"
	"gopkg.in/mgo.v2/bson"
)

// matchDocument reports whether the actual wire document structurally
// contains expected: every expected field must be present with an equal
// value, recursing into subdocuments and arrays; extra actual fields
// are allowed. A nil expectation matches anything, including an absent
// document.
func matchDocument(actual bson.Raw, expected interface{}, logger log15.Logger) bool {
	if expected == nil {
		return true
	}
	if len(actual.Data) == 0 {
		logger.Error("expected a document, request has none")
		return false
	}

	var actualDoc bson.M
	if err := actual.Unmarshal(&actualDoc); err != nil {
		logger.Error("error decoding request document", "err", err)
		return false
	}

	expectedDoc, err := normalize(expected)
	if err != nil {
		logger.Error("error normalizing expected document", "err", err)
		return false
	}

	for field, want := range expectedDoc {
		got, ok := actualDoc[field]
		if !ok {
			logger.Error("missing field", "field", field)
			return false
		}
		if !matchValue(want, got) {
			logger.Error("field mismatch", "field", field, "expected", want, "got", got)
			return false
		}
	}
	return true
}

// normalize round-trips expected through BSON so both sides of a
// comparison use the same type vocabulary (bson.M documents,
// []interface{} arrays, decoded numbers).
func normalize(doc interface{}) (bson.M, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out bson.M
	if err := bson.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func matchValue(expected, actual interface{}) bool {
	if expDoc, ok := asDocMap(expected); ok {
		actDoc, ok := asDocMap(actual)
		if !ok {
			return false
		}
		for field, want := range expDoc {
			got, ok := actDoc[field]
			if !ok || !matchValue(want, got) {
				return false
			}
		}
		return true
	}

	if expArr, ok := asArray(expected); ok {
		actArr, ok := asArray(actual)
		if !ok || len(actArr) != len(expArr) {
			return false
		}
		for i := range expArr {
			if !matchValue(expArr[i], actArr[i]) {
				return false
			}
		}
		return true
	}

	// Numbers compare by value across BSON integer and double widths.
	if expNum, ok := asFloat(expected); ok {
		actNum, ok := asFloat(actual)
		return ok && expNum == actNum
	}

	return reflect.DeepEqual(expected, actual)
}

func asDocMap(v interface{}) (map[string]interface{}, bool) {
	switch doc := v.(type) {
	case bson.M:
		return doc, true
	case map[string]interface{}:
		return doc, true
	case bson.D:
		out := make(map[string]interface{}, len(doc))
		for _, elem := range doc {
			out[elem.Name] = elem.Value
		}
		return out, true
	}
	return nil, false
}

func asArray(v interface{}) ([]interface{}, bool) {
	arr, ok := v.([]interface{})
	return arr, ok
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
