// Package app wires the engine together: configuration, an isolated logger,
// the reference cache, manifest loading, registry validation, and the run
// lifecycle from flag resolution through graph assembly to execution.
package app
