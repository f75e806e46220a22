// Package cubby is a replicated key-value engine in which every replica
// accepts writes independently and later reconciles with peers so that
// all replicas converge to identical content, without tombstones and
// without background garbage collection.
//
// Every write is tagged with an author (a peer.ID, mapped locally to a
// dense peer.LocalPeerHandle by the peer Registry) and a Hybrid Logical
// Clock value (package hlc). The causal history needed for
// reconciliation is kept compactly as a compressed per-peer integer set
// (package clockset, a roaring-bitmap wrapper) rather than as tombstones.
//
// A Replica owns an entry.Index (the authoritative key -> value map), a
// peer.Registry (identity and clock-set bookkeeping), and an
// hlc.Allocator (monotonic timestamp issuance), and is parametric over a
// backend.Backend persistence collaborator. Writes are staged through a
// Txn and committed as a batch spanning one contiguous run of HLCs, one
// per write. Reconciliation between
// two replicas happens through state sync (RequestDiff / BuildDiff /
// IntegrateDiff, a pull protocol) or op sync (IntegrateOp /
// IntegrateOps, a best-effort push protocol); both funnel through the
// same overwrite comparator so the two protocols always converge to the
// same result.
//
// Persistence, transport, peer authentication, and any CLI or embedding
// harness are explicitly out of scope: this package is the replication
// engine only.
package cubby
