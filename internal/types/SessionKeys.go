package types

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

type SessionKeys struct {
	_tab flatbuffers.Table
}

func GetRootAsSessionKeys(buf []byte, offset flatbuffers.UOffsetT) *SessionKeys {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &SessionKeys{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *SessionKeys) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *SessionKeys) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *SessionKeys) OwnerBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *SessionKeys) Keys(obj *KeyEntry, j int) bool {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		x := rcv._tab.Vector(o)
		x += flatbuffers.UOffsetT(j) * 4
		x = rcv._tab.Indirect(x)
		obj.Init(rcv._tab.Bytes, x)
		return true
	}
	return false
}

func (rcv *SessionKeys) KeysLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func SessionKeysStart(builder *flatbuffers.Builder) {
	builder.StartObject(2)
}

func SessionKeysAddOwner(builder *flatbuffers.Builder, owner flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(owner), 0)
}

func SessionKeysAddKeys(builder *flatbuffers.Builder, keys flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(keys), 0)
}

func SessionKeysStartKeysVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(4, numElems, 4)
}

func SessionKeysEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
