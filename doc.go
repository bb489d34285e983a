// The [surrealodm] package maps Go documents to stored records the way an object-document mapper does.
//
// # Document Manager
//
// [DocumentManager] is the entry point. It owns one unit of work and exposes Persist, Remove, Flush, Clear,
// Detach and Find, plus a small query builder created with [DocumentManager.CreateQuery].
//
// Build one with [New] from an explicit [Config], or with [Open] from a [FileConfig] loaded from YAML.
//
// # Mapping
//
// Document types are declared with [github.com/surrealdb/surrealodm/pkg/mapping]: the table, the id strategy,
// the stored scalar fields and the references to other documents with their storage form and cascades.
//
// References are held in [github.com/surrealdb/surrealodm/pkg/persistent] collections and references. A
// reloaded document gets unhydrated containers that load their targets on first access, with one storage
// round trip per table.
//
// # Identity
//
// Within one document manager a (table, id) pair is represented by exactly one instance. Finding a document
// twice returns the same pointer and issues one load. [DocumentManager.Clear] forgets every instance.
//
// # Storage
//
// Storage backends implement [github.com/surrealdb/surrealodm/pkg/storage.Storage]. The module ships an
// in-memory store, SQLite, PostgreSQL through GORM and SurrealDB over its RPC protocol, plus an LRU read cache
// that wraps any of them.
//
// A DocumentManager is not safe for concurrent use. Storage backends are.
package surrealodm
