// Package merge computes three-way merges of a change request's file change
// against the live document and applies per-conflict decisions.
//
// The base of the merge is the document version the file change was computed
// against, "mine" is the proposed content and "theirs" is the current stored
// document. Regions edited by only one side merge automatically; regions
// edited by both sides with different results become a [models.Conflict].
//
// Merging is deterministic for identical inputs, so a conflict reference
// computed by one [Engine.Merge] call matches the reference produced by a
// retry as long as the live document did not advance.
package merge
