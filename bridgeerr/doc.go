// Package bridgeerr defines the error taxonomy shared by every engine
// in deckbridge.
//
// All failures that cross a component boundary are classified into a
// Kind before being surfaced, so the presentation layer can decide
// between retrying, prompting the user, or giving up without parsing
// error strings.
//
// Example:
//
//	err := channel.Stat(path)
//	if bridgeerr.KindOf(err) == bridgeerr.KindPathNotFound {
//	    // destination is free, proceed with the write
//	}
package bridgeerr
