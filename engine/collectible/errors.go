package collectible

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the pipeline stages.
var (
	ErrNoImageURL        = errors.New("no image URL provided")
	ErrTargetCollision   = errors.New("target file collision")
	ErrInterrupted       = errors.New("run interrupted before item was dispatched")
	ErrNoItemsClassified = errors.New("no items matched the configured categories")
	ErrEmptyCatalog      = errors.New("catalog contains no valid items")
	ErrBlankID           = errors.New("id is missing or blank")
	ErrBadID             = errors.New("id does not name a single file")
	ErrBadField          = errors.New("field has the wrong type")
	ErrBadImageURL       = errors.New("image is not an absolute http(s) URL")
)

// ValidationError describes a catalog record that was dropped at parse time.
type ValidationError struct {
	Index int // ordinal position in the catalog array
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("validation: record %d: %s: %s", e.Index, e.Field, e.Err)
	}
	return fmt.Sprintf("validation: record %d: %s: %s (value=%q)", e.Index, e.Field, e.Err, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DecodeError reports bytes that are not a usable raster image. Source is a
// URL or a file path.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("decode image: %s", e.Err)
	}
	return fmt.Sprintf("decode image %s: %s", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CatalogError is fatal to a run: the catalog could not be fetched or its
// top level could not be parsed.
type CatalogError struct {
	URL string
	Err error
}

func (e *CatalogError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("catalog: %s", e.Err)
	}
	return fmt.Sprintf("catalog %s: %s", e.URL, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }
