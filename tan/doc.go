// Package tan packages in-flight TAN challenges for out-of-band display and
// renders flicker-code payloads into the deterministic bar stream a visual TAN
// generator expects. Rendering is pure; nothing here talks to the bank.
package tan
