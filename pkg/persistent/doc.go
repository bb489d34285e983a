// Package persistent holds the lazily loaded reference containers a document
// uses to point at other documents: Collection for many, Reference for one.
//
// Both are explicit tagged states. Before first access they only hold tokens
// (the stored form of each reference). The first access asks the bound Loader
// to resolve every token at once and from then on they hold the live,
// managed instances. Nothing ever stands in for a document: a reader either
// gets the real instance or an error.
//
// Mutations are tracked against a snapshot taken at hydration time and again
// after each successful flush, which is what the unit of work diffs against.
package persistent
