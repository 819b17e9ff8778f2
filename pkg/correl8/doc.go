// Package correl8 manages a logical document index on top of a document store.
//
// A Handle names an active index derived from a base name and a document type
// and a config index next to it:
//
//	h, err := correl8.New(ctx, "Events", correl8.WithBaseName("Correl8"))
//	// h.Index()       == "correl8-events"
//	// h.ConfigIndex() == "correl8-events-config"
//	defer h.Close()
//
// Init creates the active index and applies a mapping, either inferred from a
// schema.Hint or given verbatim as a schema.Mapping:
//
//	err = h.Init(ctx, schema.Hint{
//	    "device": schema.Token(schema.TokenString),
//	    "note":   schema.Token(schema.TokenFullText),
//	    "steps":  schema.Token("long"),
//	})
//
// Insert normalizes the reserved timestamp field before writing; values that
// cannot be normalized are replaced with the current time and logged.
//
// # Handles
//
// Handles are immutable. WithType and WithIndex return a new handle for a
// different active index that keeps the original config index; WithConfigReset
// moves the config index next to the current active index. All handles derived
// from one New call share a session and are closed together.
//
// # Config
//
// Every handle has a single config document stored in its config index under
// a stable id (DefaultConfigID unless WithConfigID is given). The config index
// is created in the background when the handle is built. SetConfig creates the
// document on first use and merges into it afterwards.
package correl8
