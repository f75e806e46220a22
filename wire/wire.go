// Package wire implements the on-the-wire encodings from spec.md §6:
// Op, DiffRequest, and DiffResponse records. Transport itself (how bytes
// reach a peer) is explicitly out of scope (spec.md §1); this package
// only turns the in-memory records into canonical bytes and back.
package wire

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
)

// ErrMalformedState is returned when a buffer is truncated or otherwise
// not a valid encoding of the record being decoded.
var ErrMalformedState = errors.New("wire: malformed state")

// Op is the wire record for a single accepted write, per spec.md §6:
// peer_id_len/peer_id, hlc (little-endian u64), key_len/key,
// value_len/value.
type Op struct {
	PeerID []byte
	HLC    uint64
	Key    []byte
	Value  []byte
}

func putBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
	buf.Write(lenBuf[:n])
	buf.Write(b)
}

func takeBytes(data []byte) (b []byte, rest []byte, err error) {
	l, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, nil, errors.WithStack(ErrMalformedState)
	}
	data = data[n:]
	if uint64(len(data)) < l {
		return nil, nil, errors.WithStack(ErrMalformedState)
	}
	return data[:l], data[l:], nil
}

// EncodeOp appends op's wire encoding to buf.
func EncodeOp(buf *bytes.Buffer, op Op) {
	putBytes(buf, op.PeerID)
	var hlcBuf [8]byte
	binary.LittleEndian.PutUint64(hlcBuf[:], op.HLC)
	buf.Write(hlcBuf[:])
	putBytes(buf, op.Key)
	putBytes(buf, op.Value)
}

// DecodeOp decodes a single Op from the front of data, returning the
// unconsumed remainder.
func DecodeOp(data []byte) (op Op, rest []byte, err error) {
	peerID, data, err := takeBytes(data)
	if err != nil {
		return Op{}, nil, err
	}
	if len(data) < 8 {
		return Op{}, nil, errors.WithStack(ErrMalformedState)
	}
	hlcVal := binary.LittleEndian.Uint64(data[:8])
	data = data[8:]
	key, data, err := takeBytes(data)
	if err != nil {
		return Op{}, nil, err
	}
	value, data, err := takeBytes(data)
	if err != nil {
		return Op{}, nil, err
	}
	return Op{PeerID: peerID, HLC: hlcVal, Key: key, Value: value}, data, nil
}

// EncodeOps encodes a batch of Ops as count:varint followed by that many
// concatenated Op records, the format used both for op-sync batches and
// for a DiffResponse's insert section (spec.md §6). Order is preserved
// as given; callers wanting the DiffResponse's canonical (peer_id, hlc)
// order should sort before calling, or use EncodeDiffResponse.
func EncodeOps(ops []Op) []byte {
	var buf bytes.Buffer
	var countBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(countBuf[:], uint64(len(ops)))
	buf.Write(countBuf[:n])
	for _, op := range ops {
		EncodeOp(&buf, op)
	}
	return buf.Bytes()
}

// DecodeOps is the inverse of EncodeOps.
func DecodeOps(data []byte) ([]Op, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, errors.WithStack(ErrMalformedState)
	}
	data = data[n:]
	ops := make([]Op, 0, count)
	for i := uint64(0); i < count; i++ {
		var op Op
		var err error
		op, data, err = DecodeOp(data)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// PeerCS is one peer's entry in a DiffRequest: its identity and the
// canonical serialization of the ClockSet the requester has observed for
// it. Reserved is always empty today; it is wire space held for the
// peer-state cache-hint extension described in SPEC_FULL.md §5.
type PeerCS struct {
	PeerID   []byte
	CSBytes  []byte
	Reserved []byte
}

// DiffRequest is the snapshot of Map<PeerId, CS> an initiator sends a
// responder to kick off state sync (spec.md §4.6, §6).
type DiffRequest struct {
	Peers []PeerCS
}

// EncodeDiffRequest encodes req, sorting peers ascending by PeerId so
// that two requests built from equal registries are byte-identical
// (spec.md §8 property 7), regardless of the order req.Peers was built
// in.
func EncodeDiffRequest(req DiffRequest) []byte {
	peers := append([]PeerCS(nil), req.Peers...)
	sort.Slice(peers, func(i, j int) bool {
		return bytes.Compare(peers[i].PeerID, peers[j].PeerID) < 0
	})
	var buf bytes.Buffer
	var countBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(countBuf[:], uint64(len(peers)))
	buf.Write(countBuf[:n])
	for _, p := range peers {
		putBytes(&buf, p.PeerID)
		putBytes(&buf, p.CSBytes)
		putBytes(&buf, p.Reserved)
	}
	return buf.Bytes()
}

// DecodeDiffRequest is the inverse of EncodeDiffRequest.
func DecodeDiffRequest(data []byte) (DiffRequest, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return DiffRequest{}, errors.WithStack(ErrMalformedState)
	}
	data = data[n:]
	peers := make([]PeerCS, 0, count)
	for i := uint64(0); i < count; i++ {
		var peerID, csBytes, reserved []byte
		var err error
		peerID, data, err = takeBytes(data)
		if err != nil {
			return DiffRequest{}, err
		}
		csBytes, data, err = takeBytes(data)
		if err != nil {
			return DiffRequest{}, err
		}
		reserved, data, err = takeBytes(data)
		if err != nil {
			return DiffRequest{}, err
		}
		peers = append(peers, PeerCS{PeerID: peerID, CSBytes: csBytes, Reserved: reserved})
	}
	return DiffRequest{Peers: peers}, nil
}

// Delete is a (peer_id, hlc) pair shipped in a DiffResponse's delete
// section: an HLC the requester believes exists for that peer but the
// responder has already overwritten (spec.md §4.6).
type Delete struct {
	PeerID []byte
	HLC    uint64
}

// DiffResponse is what a responder ships back from build_diff: the
// inserts and deletes needed to bring the requester up to date
// (spec.md §4.6, §6).
type DiffResponse struct {
	Inserts []Op
	Deletes []Delete
}

func opLess(a, b Op) bool {
	if c := bytes.Compare(a.PeerID, b.PeerID); c != 0 {
		return c < 0
	}
	return a.HLC < b.HLC
}

func deleteLess(a, b Delete) bool {
	if c := bytes.Compare(a.PeerID, b.PeerID); c != 0 {
		return c < 0
	}
	return a.HLC < b.HLC
}

// EncodeDiffResponse encodes resp, sorting both sections by (peer_id,
// hlc) so byte-equal states yield byte-equal diffs (spec.md §6, §8
// property 7).
func EncodeDiffResponse(resp DiffResponse) []byte {
	inserts := append([]Op(nil), resp.Inserts...)
	sort.Slice(inserts, func(i, j int) bool { return opLess(inserts[i], inserts[j]) })
	deletes := append([]Delete(nil), resp.Deletes...)
	sort.Slice(deletes, func(i, j int) bool { return deleteLess(deletes[i], deletes[j]) })

	var buf bytes.Buffer
	var n int
	var countBuf [binary.MaxVarintLen64]byte
	n = binary.PutUvarint(countBuf[:], uint64(len(inserts)))
	buf.Write(countBuf[:n])
	for _, op := range inserts {
		EncodeOp(&buf, op)
	}
	n = binary.PutUvarint(countBuf[:], uint64(len(deletes)))
	buf.Write(countBuf[:n])
	for _, d := range deletes {
		putBytes(&buf, d.PeerID)
		var hlcBuf [8]byte
		binary.LittleEndian.PutUint64(hlcBuf[:], d.HLC)
		buf.Write(hlcBuf[:])
	}
	return buf.Bytes()
}

// DecodeDiffResponse is the inverse of EncodeDiffResponse.
func DecodeDiffResponse(data []byte) (DiffResponse, error) {
	insertCount, n := binary.Uvarint(data)
	if n <= 0 {
		return DiffResponse{}, errors.WithStack(ErrMalformedState)
	}
	data = data[n:]
	inserts := make([]Op, 0, insertCount)
	for i := uint64(0); i < insertCount; i++ {
		var op Op
		var err error
		op, data, err = DecodeOp(data)
		if err != nil {
			return DiffResponse{}, err
		}
		inserts = append(inserts, op)
	}
	deleteCount, n := binary.Uvarint(data)
	if n <= 0 {
		return DiffResponse{}, errors.WithStack(ErrMalformedState)
	}
	data = data[n:]
	deletes := make([]Delete, 0, deleteCount)
	for i := uint64(0); i < deleteCount; i++ {
		peerID, rest, err := takeBytes(data)
		if err != nil {
			return DiffResponse{}, err
		}
		if len(rest) < 8 {
			return DiffResponse{}, errors.WithStack(ErrMalformedState)
		}
		h := binary.LittleEndian.Uint64(rest[:8])
		data = rest[8:]
		deletes = append(deletes, Delete{PeerID: peerID, HLC: h})
	}
	return DiffResponse{Inserts: inserts, Deletes: deletes}, nil
}
