// Package cli parses the mindboggle command line and environment into an
// app.Config.
package cli
