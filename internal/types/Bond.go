package types

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

type Bond struct {
	_tab flatbuffers.Table
}

func GetRootAsBond(buf []byte, offset flatbuffers.UOffsetT) *Bond {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &Bond{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *Bond) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *Bond) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *Bond) ParticipantBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *Bond) ControllerBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *Bond) Stake() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Bond) Commission() uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.GetUint32(o + rcv._tab.Pos)
	}
	return 0
}

func BondStart(builder *flatbuffers.Builder) {
	builder.StartObject(4)
}

func BondAddParticipant(builder *flatbuffers.Builder, participant flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(participant), 0)
}

func BondAddController(builder *flatbuffers.Builder, controller flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(controller), 0)
}

func BondAddStake(builder *flatbuffers.Builder, stake uint64) {
	builder.PrependUint64Slot(2, stake, 0)
}

func BondAddCommission(builder *flatbuffers.Builder, commission uint32) {
	builder.PrependUint32Slot(3, commission, 0)
}

func BondEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
