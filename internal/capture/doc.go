// Package capture owns the flow runtime's per-run network buffer (spec.md
// §4.4): a rolling, size-bounded record of every request/response a flow
// observes, with header- and body-level redaction applied before an entry
// is ever stored. The network_find and network_extract steps read straight
// out of this buffer.
package capture
