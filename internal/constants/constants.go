package constants

// UnsetValue is shown for a field that has no recognized value on the page.
// Anything consuming the flat view must treat it as "no value".
const UnsetValue = "-"

// EditPlaceholder is the initial text of a label drawn for a field that has no value yet.
const EditPlaceholder = "Click to edit..."

// IsPlaceholder reports whether s is one of the UI sentinels rather than a real value.
func IsPlaceholder(s string) bool {
	return s == UnsetValue || s == EditPlaceholder
}
