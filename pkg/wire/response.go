package wire

import (
	"github.com/cuemby/portod/pkg/portoerr"
	"google.golang.org/protobuf/encoding/protowire"
)

// Response is the tagged union spec.md §6 describes for replies: an
// error code, optional error text, and exactly one result shape (nil
// result fields are valid for ops with nothing to report, e.g.
// Destroy on success).
type Response struct {
	Error    portoerr.Kind
	ErrorMsg string

	Property     *PropertyResult
	List         *ListResult
	Wait         *WaitResult
	VolumeDesc   *VolumeDescription
	VolumeList   *VolumeListResult
}

const (
	fieldRespError protowire.Number = iota + 1
	fieldRespErrorMsg
	fieldRespProperty
	fieldRespList
	fieldRespWait
	fieldRespVolumeDesc
	fieldRespVolumeList
)

type PropertyResult struct {
	Value string
}

type ListResult struct {
	Names []string
}

type WaitResult struct {
	Name       string
	TimedOut   bool
	ExitStatus int64
	Signal     int64
}

type VolumeDescription struct {
	Path            string
	Backend         string
	Storage         string
	Ready           bool
	Owner           string
	Group           string
	Permissions     string
	Creator         string
	ReadOnly        bool
	Layers          []string
	SpaceLimit      uint64
	InodeLimit      uint64
	SpaceGuarantee  uint64
	InodeGuarantee  uint64
	SpaceUsed       uint64
	InodeUsed       uint64
	SpaceAvailable  uint64
	InodeAvailable  uint64
	Containers      []string
}

type VolumeListResult struct {
	Volumes []VolumeDescription
}

func (r *Response) Marshal() []byte {
	var b []byte
	b = appendUint64(b, fieldRespError, uint64(r.Error))
	b = appendString(b, fieldRespErrorMsg, r.ErrorMsg)
	if r.Property != nil {
		b = appendMessage(b, fieldRespProperty, r.Property.marshal())
	}
	if r.List != nil {
		b = appendMessage(b, fieldRespList, r.List.marshal())
	}
	if r.Wait != nil {
		b = appendMessage(b, fieldRespWait, r.Wait.marshal())
	}
	if r.VolumeDesc != nil {
		b = appendMessage(b, fieldRespVolumeDesc, r.VolumeDesc.marshal())
	}
	if r.VolumeList != nil {
		b = appendMessage(b, fieldRespVolumeList, r.VolumeList.marshal())
	}
	return b
}

func UnmarshalResponse(data []byte) (*Response, error) {
	r := &Response{}
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch num {
		case fieldRespError:
			v, n := consumeUint64(data)
			r.Error = portoerr.Kind(v)
			return n
		case fieldRespErrorMsg:
			v, n := consumeString(data)
			r.ErrorMsg = v
			return n
		case fieldRespProperty:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n
			}
			r.Property = &PropertyResult{}
			r.Property.unmarshal(msg)
			return n
		case fieldRespList:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n
			}
			r.List = &ListResult{}
			r.List.unmarshal(msg)
			return n
		case fieldRespWait:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n
			}
			r.Wait = &WaitResult{}
			r.Wait.unmarshal(msg)
			return n
		case fieldRespVolumeDesc:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n
			}
			r.VolumeDesc = &VolumeDescription{}
			r.VolumeDesc.unmarshal(msg)
			return n
		case fieldRespVolumeList:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n
			}
			r.VolumeList = &VolumeListResult{}
			r.VolumeList.unmarshal(msg)
			return n
		default:
			return int(protowire.ConsumeFieldValue(num, typ, data))
		}
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

const (
	subValueField protowire.Number = iota + 1
	subTimedOut
	subExitStatus
	subSignalField
	subBackend
	subStorage
	subReady
	subOwner
	subGroup
	subPermissions
	subCreator
	subReadOnly
	subLayer
	subSpaceLimit
	subInodeLimit
	subSpaceGuarantee
	subInodeGuarantee
	subSpaceUsed
	subInodeUsed
	subSpaceAvailable
	subInodeAvailable
	subContainerName
	subVolume
)

func (m *PropertyResult) marshal() []byte {
	return appendString(nil, subValueField, m.Value)
}

func (m *PropertyResult) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		if num == subValueField {
			v, n := consumeString(data)
			m.Value = v
			return n
		}
		return consumeBytesSkip(typ, data)
	})
}

func (m *ListResult) marshal() []byte {
	var b []byte
	for _, name := range m.Names {
		b = appendString(b, subName, name)
	}
	return b
}

func (m *ListResult) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		if num == subName {
			v, n := consumeString(data)
			m.Names = append(m.Names, v)
			return n
		}
		return consumeBytesSkip(typ, data)
	})
}

func (m *WaitResult) marshal() []byte {
	var b []byte
	b = appendString(b, subName, m.Name)
	b = appendBool(b, subTimedOut, m.TimedOut)
	b = appendInt64(b, subExitStatus, m.ExitStatus)
	b = appendInt64(b, subSignalField, m.Signal)
	return b
}

func (m *WaitResult) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch num {
		case subName:
			v, n := consumeString(data)
			m.Name = v
			return n
		case subTimedOut:
			v, n := consumeUint64(data)
			m.TimedOut = v != 0
			return n
		case subExitStatus:
			v, n := consumeUint64(data)
			m.ExitStatus = int64(v)
			return n
		case subSignalField:
			v, n := consumeUint64(data)
			m.Signal = int64(v)
			return n
		default:
			return consumeBytesSkip(typ, data)
		}
	})
}

func (m *VolumeDescription) marshal() []byte {
	var b []byte
	b = appendString(b, subPath, m.Path)
	b = appendString(b, subBackend, m.Backend)
	b = appendString(b, subStorage, m.Storage)
	b = appendBool(b, subReady, m.Ready)
	b = appendString(b, subOwner, m.Owner)
	b = appendString(b, subGroup, m.Group)
	b = appendString(b, subPermissions, m.Permissions)
	b = appendString(b, subCreator, m.Creator)
	b = appendBool(b, subReadOnly, m.ReadOnly)
	for _, l := range m.Layers {
		b = appendString(b, subLayer, l)
	}
	b = appendUint64(b, subSpaceLimit, m.SpaceLimit)
	b = appendUint64(b, subInodeLimit, m.InodeLimit)
	b = appendUint64(b, subSpaceGuarantee, m.SpaceGuarantee)
	b = appendUint64(b, subInodeGuarantee, m.InodeGuarantee)
	b = appendUint64(b, subSpaceUsed, m.SpaceUsed)
	b = appendUint64(b, subInodeUsed, m.InodeUsed)
	b = appendUint64(b, subSpaceAvailable, m.SpaceAvailable)
	b = appendUint64(b, subInodeAvailable, m.InodeAvailable)
	for _, c := range m.Containers {
		b = appendString(b, subContainerName, c)
	}
	return b
}

func (m *VolumeDescription) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		switch num {
		case subPath:
			v, n := consumeString(data)
			m.Path = v
			return n
		case subBackend:
			v, n := consumeString(data)
			m.Backend = v
			return n
		case subStorage:
			v, n := consumeString(data)
			m.Storage = v
			return n
		case subReady:
			v, n := consumeUint64(data)
			m.Ready = v != 0
			return n
		case subOwner:
			v, n := consumeString(data)
			m.Owner = v
			return n
		case subGroup:
			v, n := consumeString(data)
			m.Group = v
			return n
		case subPermissions:
			v, n := consumeString(data)
			m.Permissions = v
			return n
		case subCreator:
			v, n := consumeString(data)
			m.Creator = v
			return n
		case subReadOnly:
			v, n := consumeUint64(data)
			m.ReadOnly = v != 0
			return n
		case subLayer:
			v, n := consumeString(data)
			m.Layers = append(m.Layers, v)
			return n
		case subSpaceLimit:
			v, n := consumeUint64(data)
			m.SpaceLimit = v
			return n
		case subInodeLimit:
			v, n := consumeUint64(data)
			m.InodeLimit = v
			return n
		case subSpaceGuarantee:
			v, n := consumeUint64(data)
			m.SpaceGuarantee = v
			return n
		case subInodeGuarantee:
			v, n := consumeUint64(data)
			m.InodeGuarantee = v
			return n
		case subSpaceUsed:
			v, n := consumeUint64(data)
			m.SpaceUsed = v
			return n
		case subInodeUsed:
			v, n := consumeUint64(data)
			m.InodeUsed = v
			return n
		case subSpaceAvailable:
			v, n := consumeUint64(data)
			m.SpaceAvailable = v
			return n
		case subInodeAvailable:
			v, n := consumeUint64(data)
			m.InodeAvailable = v
			return n
		case subContainerName:
			v, n := consumeString(data)
			m.Containers = append(m.Containers, v)
			return n
		default:
			return consumeBytesSkip(typ, data)
		}
	})
}

func (m *VolumeListResult) marshal() []byte {
	var b []byte
	for i := range m.Volumes {
		b = appendMessage(b, subVolume, m.Volumes[i].marshal())
	}
	return b
}

func (m *VolumeListResult) unmarshal(data []byte) {
	_ = consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) int {
		if num == subVolume {
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n
			}
			var v VolumeDescription
			v.unmarshal(msg)
			m.Volumes = append(m.Volumes, v)
			return n
		}
		return consumeBytesSkip(typ, data)
	})
}
