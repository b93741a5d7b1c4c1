// Package pinvault caches banking PINs in Redis, encrypted at rest with a key
// derived from a host-supplied master secret. Entries live in one of two
// tiers: session entries expire on their own, persistent entries survive until
// purged. The vault never stores the display sentinel that stands in for an
// already-cached PIN.
package pinvault
