// Package catalog provides the engine registry used to validate speaker
// selections before a conversion is dispatched. Engines contribute their
// speakers through Provider implementations; a Registry snapshots them once
// and is read-only afterwards.
package catalog
