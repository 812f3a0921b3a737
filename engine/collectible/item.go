// Package collectible holds the catalog data model shared by every stage:
// items, per-item outcomes, run summaries and the error taxonomy.
package collectible

import "strings"

// IDPrefix is stripped from item ids to form the target file name.
const IDPrefix = "collectible-"

// FileExt is the extension of every materialized asset.
const FileExt = ".png"

// Item is one catalog record. Empty strings mean the field was absent.
type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Image       string `json:"image,omitempty"`
}

// FileName is the target asset name: the id without its leading prefix,
// plus the fixed extension.
func (it Item) FileName() string {
	return strings.TrimPrefix(it.ID, IDPrefix) + FileExt
}

// SafeStem reports whether the id, once stripped of IDPrefix, names a
// single file: non-empty, not "." or "..", and free of path separators.
func (it Item) SafeStem() bool {
	stem := strings.TrimPrefix(it.ID, IDPrefix)
	switch stem {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(stem, "/\\\x00")
}

// HasImage reports whether the item carries an image URL.
func (it Item) HasImage() bool { return it.Image != "" }

// Text is the name and description joined by a space, as classified by the
// text fallback.
func (it Item) Text() string {
	return it.Name + " " + it.Description
}
