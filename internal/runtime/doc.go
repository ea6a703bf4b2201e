// Package runtime adapts the remote conversation API: an HTTP client
// implementing agency.Client, the Builder that materializes live graphs
// from specs, and RunTurn which drives one streamed conversation turn.
//
// Everything here makes blocking network calls. The relay bridges these
// calls onto worker goroutines so connection loops stay responsive.
package runtime
