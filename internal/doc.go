// Package internal contains the implementation packages of the weft CLI.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - errors: Structured template errors with spans, snippets and collection
//   - logging: Structured logging on top of log/slog
//   - config: Configuration loading and validation with Viper
//   - expr: Expression templates, the expression compiler and filters
//   - component: The component tree, tag registry and rendering
//   - parser: Tag scanning and tree construction from template source
//   - macro: Macro definitions, parameter binding and expansion
//   - engine: Documents, macro file loading and the definition cache
//   - scanner: Template discovery and concurrent processing
//   - watcher: File system monitoring with debouncing
//   - version: Build information
//
// # Data Flow
//
// The parser reads template source and asks the component factory for a
// node per tag. Tags resolve in order: built-ins, registered components,
// macros defined in the document, then macro files found through the
// engine. Attribute values compile through the expr cache. Rendering walks
// the tree, binding expressions against properties first and the caller's
// data second.
//
// # Concurrency
//
// Engines, the expression cache and the macro definition cache are safe for
// concurrent use. Documents and parsers belong to one goroutine.
package internal
