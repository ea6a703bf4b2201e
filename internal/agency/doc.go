// Package agency models an agency: the declarative Spec of agent roles and
// communication edges, and the live Graph of remote assistant and thread
// handles built from it.
//
// A Graph exists in two forms. The live form carries a Client reference on
// every handle and is what turn execution runs against. The stored form
// (StoredGraph) is plain data safe to serialize into a shared cache. The
// two are connected by an explicit pair: Graph.Stored strips every client
// reference, StoredGraph.Attach reinstates a fresh one on every handle.
// Generic deep-copy is deliberately avoided so that a new handle kind
// cannot silently serialize a live client.
package agency
