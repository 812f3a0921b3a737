package collectible

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// ParseCatalog decodes a catalog JSON array. Each element is decoded on its
// own; elements that fail validation are logged with their ordinal index and
// dropped. Only a malformed top level is an error.
func ParseCatalog(data []byte, log *slog.Logger) ([]Item, error) {
	if log == nil {
		log = slog.Default()
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, &CatalogError{Err: errors.New("top level is not a JSON array")}
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &CatalogError{Err: fmt.Errorf("decode array: %w", err)}
	}

	items := make([]Item, 0, len(raw))
	for i, elem := range raw {
		it, err := parseRecord(i, elem)
		if err != nil {
			log.Warn("dropping catalog record", "index", i, "error", err)
			continue
		}
		items = append(items, it)
	}
	if dropped := len(raw) - len(items); dropped > 0 {
		log.Info("catalog parsed", "records", len(raw), "valid", len(items), "dropped", dropped)
	}
	return items, nil
}

func parseRecord(index int, elem json.RawMessage) (Item, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elem, &fields); err != nil || fields == nil {
		return Item{}, &ValidationError{Index: index, Field: "record", Err: ErrBadField}
	}

	var it Item
	targets := []struct {
		name string
		dst  *string
	}{
		{"id", &it.ID},
		{"name", &it.Name},
		{"description", &it.Description},
		{"type", &it.Type},
		{"image", &it.Image},
	}
	for _, t := range targets {
		v, err := optionalString(fields[t.name])
		if err != nil {
			return Item{}, &ValidationError{Index: index, Field: t.name, Err: ErrBadField}
		}
		*t.dst = v
	}

	it.ID = strings.TrimSpace(it.ID)
	if it.ID == "" {
		return Item{}, &ValidationError{Index: index, Field: "id", Err: ErrBlankID}
	}
	if !it.SafeStem() {
		return Item{}, &ValidationError{Index: index, Field: "id", Value: it.ID, Err: ErrBadID}
	}
	it.Image = strings.TrimSpace(it.Image)
	if it.Image != "" && !isAbsoluteHTTP(it.Image) {
		return Item{}, &ValidationError{Index: index, Field: "image", Value: it.Image, Err: ErrBadImageURL}
	}
	return it, nil
}

// optionalString accepts a JSON string or null; absence reads as "".
func optionalString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

func isAbsoluteHTTP(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
