// Package label resolves D365 F&O label_id references
// (strings of the form @<module><number>) to display text, with an
// L1/DB/remote lookup chain and a generic object walker that fills
// in label_text fields in place.
package label

// Holder is the capability every version-scoped metadata value with a
// label reference implements: a getter for the id to resolve and a
// setter the resolver writes the text back through.
type Holder interface {
	GetLabelID() string
	SetLabelText(text string)
}
