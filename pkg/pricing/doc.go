// Package pricing maps model token usage to USD cost.
//
// Rates come from a YAML table keyed by model name, with prefix fallback
// for dated model releases and a default entry for unknown models. The
// table supports hot reload: a file watcher swaps in the new rates without
// interrupting in-flight requests.
package pricing
