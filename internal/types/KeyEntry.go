package types

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

type KeyEntry struct {
	_tab flatbuffers.Table
}

func GetRootAsKeyEntry(buf []byte, offset flatbuffers.UOffsetT) *KeyEntry {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &KeyEntry{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *KeyEntry) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *KeyEntry) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *KeyEntry) Role() byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetByte(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *KeyEntry) PubkeyBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *KeyEntry) ProofBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func KeyEntryStart(builder *flatbuffers.Builder) {
	builder.StartObject(3)
}

func KeyEntryAddRole(builder *flatbuffers.Builder, role byte) {
	builder.PrependByteSlot(0, role, 0)
}

func KeyEntryAddPubkey(builder *flatbuffers.Builder, pubkey flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(pubkey), 0)
}

func KeyEntryAddProof(builder *flatbuffers.Builder, proof flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(2, flatbuffers.UOffsetT(proof), 0)
}

func KeyEntryEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
