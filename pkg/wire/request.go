package wire

import "google.golang.org/protobuf/encoding/protowire"

// Request is the tagged union spec.md §6 describes: exactly one of its
// fields should be non-nil. Field numbers below are the request's
// oneof case tags on the wire.
type Request struct {
	Create       *CreateRequest
	Destroy      *DestroyRequest
	SetProperty  *SetPropertyRequest
	GetProperty  *GetPropertyRequest
	Start        *StartRequest
	Stop         *StopRequest
	Pause        *PauseRequest
	Resume       *ResumeRequest
	Kill         *KillRequest
	Wait         *WaitRequest
	List         *ListRequest
	CreateVolume *CreateVolumeRequest
	LinkVolume   *LinkVolumeRequest
	UnlinkVolume *UnlinkVolumeRequest
	ListVolumes  *ListVolumesRequest
}

const (
	fieldCreate protowire.Number = iota + 1
	fieldDestroy
	fieldSetProperty
	fieldGetProperty
	fieldStart
	fieldStop
	fieldPause
	fieldResume
	fieldKill
	fieldWait
	fieldList
	fieldCreateVolume
	fieldLinkVolume
	fieldUnlinkVolume
	fieldListVolumes
)

type CreateRequest struct {
	Name string
	Weak bool
}

type DestroyRequest struct {
	Name string
}

type SetPropertyRequest struct {
	Name     string
	Property string
	Value    string
}

type GetPropertyRequest struct {
	Name     string
	Property string
}

type StartRequest struct {
	Name string
}

type StopRequest struct {
	Name      string
	TimeoutMs uint64
}

type PauseRequest struct {
	Name string
}

type ResumeRequest struct {
	Name string
}

type KillRequest struct {
	Name   string
	Signal int64
}

type WaitRequest struct {
	Names     []string
	TimeoutMs uint64
}

type ListRequest struct {
	Mask string
}

// Property is a generic key/value pair used by requests that configure
// more than one named value at once (CreateVolume's property set).
type Property struct {
	Key   string
	Value string
}

type CreateVolumeRequest struct {
	Path       string
	Properties []Property
}

type LinkVolumeRequest struct {
	Path      string
	Container string
}

type UnlinkVolumeRequest struct {
	Path      string
	Container string
}

type ListVolumesRequest struct {
	Path string // optional filter; empty means all
}

// Marshal encodes r as a protowire tagged union.
func (r *Request) Marshal() []byte {
	var b []byte
	switch {
	case r.Create != nil:
		b = appendMessage(b, fieldCreate, r.Create.marshal())
	case r.Destroy != nil:
		b = appendMessage(b, fieldDestroy, r.Destroy.marshal())
	case r.SetProperty != nil:
		b = appendMessage(b, fieldSetProperty, r.SetProperty.marshal())
	case r.GetProperty != nil:
		b = appendMessage(b, fieldGetProperty, r.GetProperty.marshal())
	case r.Start != nil:
		b = appendMessage(b, fieldStart, r.Start.marshal())
	case r.Stop != nil:
		b = appendMessage(b, fieldStop, r.Stop.marshal())
	case r.Pause != nil:
		b = appendMessage(b, fieldPause, r.Pause.marshal())
	case r.Resume != nil:
		b = appendMessage(b, fieldResume, r.Resume.marshal())
	case r.Kill != nil:
		b = appendMessage(b, fieldKill, r.Kill.marshal())
	case r.Wait != nil:
		b = appendMessage(b, fieldWait, r.Wait.marshal())
	case r.List != nil:
		b = appendMessage(b, fieldList, r.List.marshal())
	case r.CreateVolume != nil:
		b = appendMessage(b, fieldCreateVolume, r.CreateVolume.marshal())
	case r.LinkVolume != nil:
		b = appendMessage(b, fieldLinkVolume, r.LinkVolume.marshal())
	case r.UnlinkVolume != nil:
		b = appendMessage(b, fieldUnlinkVolume, r.UnlinkVolume.marshal())
	case r.ListVolumes != nil:
		b = appendMessage(b, fieldListVolumes, r.ListVolumes.marshal())
	}
	return b
}

// UnmarshalRequest decodes a tagged-union Request payload.
func UnmarshalRequest(data []byte) (*Request, error) {
	r := &Request{}
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		if typ != protowire.BytesType {
			return int(protowire.ConsumeFieldValue(num, typ, data))
		}
		msg, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return n
		}
		switch num {
		case fieldCreate:
			r.Create = &CreateRequest{}
			r.Create.unmarshal(msg)
		case fieldDestroy:
			r.Destroy = &DestroyRequest{}
			r.Destroy.unmarshal(msg)
		case fieldSetProperty:
			r.SetProperty = &SetPropertyRequest{}
			r.SetProperty.unmarshal(msg)
		case fieldGetProperty:
			r.GetProperty = &GetPropertyRequest{}
			r.GetProperty.unmarshal(msg)
		case fieldStart:
			r.Start = &StartRequest{}
			r.Start.unmarshal(msg)
		case fieldStop:
			r.Stop = &StopRequest{}
			r.Stop.unmarshal(msg)
		case fieldPause:
			r.Pause = &PauseRequest{}
			r.Pause.unmarshal(msg)
		case fieldResume:
			r.Resume = &ResumeRequest{}
			r.Resume.unmarshal(msg)
		case fieldKill:
			r.Kill = &KillRequest{}
			r.Kill.unmarshal(msg)
		case fieldWait:
			r.Wait = &WaitRequest{}
			r.Wait.unmarshal(msg)
		case fieldList:
			r.List = &ListRequest{}
			r.List.unmarshal(msg)
		case fieldCreateVolume:
			r.CreateVolume = &CreateVolumeRequest{}
			r.CreateVolume.unmarshal(msg)
		case fieldLinkVolume:
			r.LinkVolume = &LinkVolumeRequest{}
			r.LinkVolume.unmarshal(msg)
		case fieldUnlinkVolume:
			r.UnlinkVolume = &UnlinkVolumeRequest{}
			r.UnlinkVolume.unmarshal(msg)
		case fieldListVolumes:
			r.ListVolumes = &ListVolumesRequest{}
			r.ListVolumes.unmarshal(msg)
		}
		return n
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

const (
	subName protowire.Number = iota + 1
	subWeak
	subProperty
	subValue
	subTimeoutMs
	subSignal
	subMask
	subPath
	subContainer
	subKey
)

func (m *CreateRequest) marshal() []byte {
	var b []byte
	b = appendString(b, subName, m.Name)
	b = appendBool(b, subWeak, m.Weak)
	return b
}

func (m *CreateRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch num {
		case subName:
			v, n := consumeString(data)
			m.Name = v
			return n
		case subWeak:
			v, n := consumeUint64(data)
			m.Weak = v != 0
			return n
		default:
			return consumeBytesSkip(typ, data)
		}
	})
}

func (m *DestroyRequest) marshal() []byte {
	return appendString(nil, subName, m.Name)
}

func (m *DestroyRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		if num == subName {
			v, n := consumeString(data)
			m.Name = v
			return n
		}
		return consumeBytesSkip(typ, data)
	})
}

func (m *SetPropertyRequest) marshal() []byte {
	var b []byte
	b = appendString(b, subName, m.Name)
	b = appendString(b, subProperty, m.Property)
	b = appendString(b, subValue, m.Value)
	return b
}

func (m *SetPropertyRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch num {
		case subName:
			v, n := consumeString(data)
			m.Name = v
			return n
		case subProperty:
			v, n := consumeString(data)
			m.Property = v
			return n
		case subValue:
			v, n := consumeString(data)
			m.Value = v
			return n
		default:
			return consumeBytesSkip(typ, data)
		}
	})
}

func (m *GetPropertyRequest) marshal() []byte {
	var b []byte
	b = appendString(b, subName, m.Name)
	b = appendString(b, subProperty, m.Property)
	return b
}

func (m *GetPropertyRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch num {
		case subName:
			v, n := consumeString(data)
			m.Name = v
			return n
		case subProperty:
			v, n := consumeString(data)
			m.Property = v
			return n
		default:
			return consumeBytesSkip(typ, data)
		}
	})
}

func (m *StartRequest) marshal() []byte { return appendString(nil, subName, m.Name) }
func (m *StartRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		if num == subName {
			v, n := consumeString(data)
			m.Name = v
			return n
		}
		return consumeBytesSkip(typ, data)
	})
}

func (m *StopRequest) marshal() []byte {
	var b []byte
	b = appendString(b, subName, m.Name)
	b = appendUint64(b, subTimeoutMs, m.TimeoutMs)
	return b
}

func (m *StopRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch num {
		case subName:
			v, n := consumeString(data)
			m.Name = v
			return n
		case subTimeoutMs:
			v, n := consumeUint64(data)
			m.TimeoutMs = v
			return n
		default:
			return consumeBytesSkip(typ, data)
		}
	})
}

func (m *PauseRequest) marshal() []byte { return appendString(nil, subName, m.Name) }
func (m *PauseRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		if num == subName {
			v, n := consumeString(data)
			m.Name = v
			return n
		}
		return consumeBytesSkip(typ, data)
	})
}

func (m *ResumeRequest) marshal() []byte { return appendString(nil, subName, m.Name) }
func (m *ResumeRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		if num == subName {
			v, n := consumeString(data)
			m.Name = v
			return n
		}
		return consumeBytesSkip(typ, data)
	})
}

func (m *KillRequest) marshal() []byte {
	var b []byte
	b = appendString(b, subName, m.Name)
	b = appendInt64(b, subSignal, m.Signal)
	return b
}

func (m *KillRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch num {
		case subName:
			v, n := consumeString(data)
			m.Name = v
			return n
		case subSignal:
			v, n := consumeUint64(data)
			m.Signal = int64(v)
			return n
		default:
			return consumeBytesSkip(typ, data)
		}
	})
}

func (m *WaitRequest) marshal() []byte {
	var b []byte
	for _, name := range m.Names {
		b = appendString(b, subName, name)
	}
	b = appendUint64(b, subTimeoutMs, m.TimeoutMs)
	return b
}

func (m *WaitRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch num {
		case subName:
			v, n := consumeString(data)
			m.Names = append(m.Names, v)
			return n
		case subTimeoutMs:
			v, n := consumeUint64(data)
			m.TimeoutMs = v
			return n
		default:
			return consumeBytesSkip(typ, data)
		}
	})
}

func (m *ListRequest) marshal() []byte { return appendString(nil, subMask, m.Mask) }
func (m *ListRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		if num == subMask {
			v, n := consumeString(data)
			m.Mask = v
			return n
		}
		return consumeBytesSkip(typ, data)
	})
}

func (m *CreateVolumeRequest) marshal() []byte {
	var b []byte
	b = appendString(b, subPath, m.Path)
	for _, p := range m.Properties {
		var pb []byte
		pb = appendString(pb, subKey, p.Key)
		pb = appendString(pb, subValue, p.Value)
		b = appendMessage(b, subProperty, pb)
	}
	return b
}

func (m *CreateVolumeRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch num {
		case subPath:
			v, n := consumeString(data)
			m.Path = v
			return n
		case subProperty:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n
			}
			var p Property
			_ = consumeFields(msg, func(num protowire.Number, typ protowire.Type, data []byte) int {
				switch num {
				case subKey:
					v, n := consumeString(data)
					p.Key = v
					return n
				case subValue:
					v, n := consumeString(data)
					p.Value = v
					return n
				default:
					return consumeBytesSkip(typ, data)
				}
			})
			m.Properties = append(m.Properties, p)
			return n
		default:
			return consumeBytesSkip(typ, data)
		}
	})
}

func (m *LinkVolumeRequest) marshal() []byte {
	var b []byte
	b = appendString(b, subPath, m.Path)
	b = appendString(b, subContainer, m.Container)
	return b
}

func (m *LinkVolumeRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch num {
		case subPath:
			v, n := consumeString(data)
			m.Path = v
			return n
		case subContainer:
			v, n := consumeString(data)
			m.Container = v
			return n
		default:
			return consumeBytesSkip(typ, data)
		}
	})
}

func (m *UnlinkVolumeRequest) marshal() []byte {
	var b []byte
	b = appendString(b, subPath, m.Path)
	b = appendString(b, subContainer, m.Container)
	return b
}

func (m *UnlinkVolumeRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch num {
		case subPath:
			v, n := consumeString(data)
			m.Path = v
			return n
		case subContainer:
			v, n := consumeString(data)
			m.Container = v
			return n
		default:
			return consumeBytesSkip(typ, data)
		}
	})
}

func (m *ListVolumesRequest) marshal() []byte { return appendString(nil, subPath, m.Path) }
func (m *ListVolumesRequest) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		if num == subPath {
			v, n := consumeString(data)
			m.Path = v
			return n
		}
		return consumeBytesSkip(typ, data)
	})
}
