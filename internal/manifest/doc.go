// Package manifest reads the flat YAML samples manifest: a sequence of
// records, each an "id", an optional "files" list, and any number of
// user-defined attributes registered by a module's mixins. It is read
// once at startup into a sample.Collection.
package manifest
