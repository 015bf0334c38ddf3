package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf16"
)

// KeyFor derives a short deterministic cache key for payload, prefixed with
// the namespace of the operation that owns it: "<namespace>_<fingerprint>".
//
// The fingerprint is a 32-bit rolling hash and is not collision resistant;
// never use it for anything security sensitive.
func KeyFor(namespace string, payload any) (string, error) {
	canon, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	return namespace + "_" + strconv.FormatInt(int64(Fingerprint(canon)), 10), nil
}

// Canonical serializes payload to compact JSON without HTML escaping.
// Struct fields keep declaration order and map keys are sorted. Raw JSON
// (json.RawMessage or []byte) keeps the caller's key order, so two raw
// objects with the same keys in a different order produce different keys.
func Canonical(payload any) (string, error) {
	switch p := payload.(type) {
	case []byte:
		payload = json.RawMessage(p)
	case json.RawMessage:
		if len(p) == 0 {
			payload = nil
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return "", fmt.Errorf("canonicalizing payload: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Fingerprint is the classic h = h*31 + c string hash over UTF-16 code
// units, accumulated in a signed 32-bit integer that wraps on overflow.
func Fingerprint(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(u)
	}
	return h
}
