// Package wire implements the relay's on-the-wire message: a single flat
// RelayUpdate frame, hand-encoded with the protobuf wire format via
// google.golang.org/protobuf/encoding/protowire. No .proto/generated code
// exists for this message in the retrieved pack, so the frame is encoded
// and decoded directly against the wire-format primitives rather than
// through protoc-gen-go.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind identifies which RelayUpdate variant a frame carries.
type Kind int32

const (
	KindUnknown Kind = iota
	KindJoin
	KindJoined
	KindReady
	KindSendRequest
	KindNewFileRequest
	KindFileConfirm
	KindBreakPoint
	KindFileData
	KindFileDone
	KindDone
	KindTerminated
	KindPing
	KindPong
	KindError
	KindShareConfirm
	KindNewFileConfirm
	KindBreakPointConfirm
	KindFileDuplication
)

// Role identifies which side of a session sent a frame.
type Role int32

const (
	RoleUnspecified Role = iota
	RoleSender
	RoleReceiver
)

// RelayUpdate is the single message type carried over the relay's
// websocket transport. Only the fields relevant to Kind are populated;
// the rest are left zero.
type RelayUpdate struct {
	Kind           Kind
	Fingerprint    []byte
	Role           Role
	SessionID      string
	FileID         uint64
	FileName       string
	FileSize       uint64
	IsDir          bool
	Offset         uint64
	Data           []byte
	Final          bool
	ErrorMessage   string
	LocalRelayAddr string
	LocalRelayPort uint32
	NumFiles       uint64
	TotalSize      uint64
	Mode           uint32
	RelativePath   string
	NumFolders     uint64
	MaxNameLength  uint32
	Accept         bool
	PercentBasis   uint32 // percentage * 100, i.e. two-decimal fixed point
}

// field numbers for the flat RelayUpdate wire message.
const (
	fieldKind           = 1
	fieldFingerprint    = 2
	fieldRole           = 3
	fieldSessionID      = 4
	fieldFileID         = 5
	fieldFileName       = 6
	fieldFileSize       = 7
	fieldIsDir          = 8
	fieldOffset         = 9
	fieldData           = 10
	fieldFinal          = 11
	fieldErrorMessage   = 12
	fieldLocalRelayAddr = 13
	fieldLocalRelayPort = 14
	fieldNumFiles       = 15
	fieldTotalSize      = 16
	fieldMode           = 17
	fieldRelativePath   = 18
	fieldNumFolders     = 19
	fieldMaxNameLength  = 20
	fieldAccept         = 21
	fieldPercentBasis   = 22
)

// ErrTruncated is returned when a frame ends mid-field.
var ErrTruncated = errors.New("wire: truncated RelayUpdate frame")

// Encode serializes u into its protobuf wire-format bytes.
func (u *RelayUpdate) Encode() []byte {
	var b []byte

	if u.Kind != KindUnknown {
		b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(u.Kind))
	}
	if len(u.Fingerprint) > 0 {
		b = protowire.AppendTag(b, fieldFingerprint, protowire.BytesType)
		b = protowire.AppendBytes(b, u.Fingerprint)
	}
	if u.Role != RoleUnspecified {
		b = protowire.AppendTag(b, fieldRole, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(u.Role))
	}
	if u.SessionID != "" {
		b = protowire.AppendTag(b, fieldSessionID, protowire.BytesType)
		b = protowire.AppendString(b, u.SessionID)
	}
	if u.FileID != 0 {
		b = protowire.AppendTag(b, fieldFileID, protowire.VarintType)
		b = protowire.AppendVarint(b, u.FileID)
	}
	if u.FileName != "" {
		b = protowire.AppendTag(b, fieldFileName, protowire.BytesType)
		b = protowire.AppendString(b, u.FileName)
	}
	if u.FileSize != 0 {
		b = protowire.AppendTag(b, fieldFileSize, protowire.VarintType)
		b = protowire.AppendVarint(b, u.FileSize)
	}
	if u.IsDir {
		b = protowire.AppendTag(b, fieldIsDir, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if u.Offset != 0 {
		b = protowire.AppendTag(b, fieldOffset, protowire.VarintType)
		b = protowire.AppendVarint(b, u.Offset)
	}
	if len(u.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, u.Data)
	}
	if u.Final {
		b = protowire.AppendTag(b, fieldFinal, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if u.ErrorMessage != "" {
		b = protowire.AppendTag(b, fieldErrorMessage, protowire.BytesType)
		b = protowire.AppendString(b, u.ErrorMessage)
	}
	if u.LocalRelayAddr != "" {
		b = protowire.AppendTag(b, fieldLocalRelayAddr, protowire.BytesType)
		b = protowire.AppendString(b, u.LocalRelayAddr)
	}
	if u.LocalRelayPort != 0 {
		b = protowire.AppendTag(b, fieldLocalRelayPort, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(u.LocalRelayPort))
	}
	if u.NumFiles != 0 {
		b = protowire.AppendTag(b, fieldNumFiles, protowire.VarintType)
		b = protowire.AppendVarint(b, u.NumFiles)
	}
	if u.TotalSize != 0 {
		b = protowire.AppendTag(b, fieldTotalSize, protowire.VarintType)
		b = protowire.AppendVarint(b, u.TotalSize)
	}
	if u.Mode != 0 {
		b = protowire.AppendTag(b, fieldMode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(u.Mode))
	}
	if u.RelativePath != "" {
		b = protowire.AppendTag(b, fieldRelativePath, protowire.BytesType)
		b = protowire.AppendString(b, u.RelativePath)
	}
	if u.NumFolders != 0 {
		b = protowire.AppendTag(b, fieldNumFolders, protowire.VarintType)
		b = protowire.AppendVarint(b, u.NumFolders)
	}
	if u.MaxNameLength != 0 {
		b = protowire.AppendTag(b, fieldMaxNameLength, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(u.MaxNameLength))
	}
	if u.Accept {
		b = protowire.AppendTag(b, fieldAccept, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if u.PercentBasis != 0 {
		b = protowire.AppendTag(b, fieldPercentBasis, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(u.PercentBasis))
	}

	return b
}

// Decode parses b into a RelayUpdate. Unknown fields are skipped, matching
// protobuf's forward-compatibility rules.
func Decode(b []byte) (*RelayUpdate, error) {
	u := &RelayUpdate{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, ErrTruncated
		}
		b = b[n:]

		switch num {
		case fieldKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.Kind = Kind(v)
			b = b[n:]
		case fieldFingerprint:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.Fingerprint = append([]byte(nil), v...)
			b = b[n:]
		case fieldRole:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.Role = Role(v)
			b = b[n:]
		case fieldSessionID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.SessionID = string(v)
			b = b[n:]
		case fieldFileID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.FileID = v
			b = b[n:]
		case fieldFileName:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.FileName = string(v)
			b = b[n:]
		case fieldFileSize:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.FileSize = v
			b = b[n:]
		case fieldIsDir:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.IsDir = v != 0
			b = b[n:]
		case fieldOffset:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.Offset = v
			b = b[n:]
		case fieldData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.Data = append([]byte(nil), v...)
			b = b[n:]
		case fieldFinal:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.Final = v != 0
			b = b[n:]
		case fieldErrorMessage:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.ErrorMessage = string(v)
			b = b[n:]
		case fieldLocalRelayAddr:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.LocalRelayAddr = string(v)
			b = b[n:]
		case fieldLocalRelayPort:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.LocalRelayPort = uint32(v)
			b = b[n:]
		case fieldNumFiles:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.NumFiles = v
			b = b[n:]
		case fieldTotalSize:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.TotalSize = v
			b = b[n:]
		case fieldMode:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.Mode = uint32(v)
			b = b[n:]
		case fieldRelativePath:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.RelativePath = string(v)
			b = b[n:]
		case fieldNumFolders:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.NumFolders = v
			b = b[n:]
		case fieldMaxNameLength:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.MaxNameLength = uint32(v)
			b = b[n:]
		case fieldAccept:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.Accept = v != 0
			b = b[n:]
		case fieldPercentBasis:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrTruncated
			}
			u.PercentBasis = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, ErrTruncated
			}
			b = b[n:]
		}
	}

	return u, nil
}

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindJoined:
		return "joined"
	case KindReady:
		return "ready"
	case KindSendRequest:
		return "send_request"
	case KindNewFileRequest:
		return "new_file_request"
	case KindFileConfirm:
		return "file_confirm"
	case KindBreakPoint:
		return "break_point"
	case KindFileData:
		return "file_data"
	case KindFileDone:
		return "file_done"
	case KindDone:
		return "done"
	case KindTerminated:
		return "terminated"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindError:
		return "error"
	case KindShareConfirm:
		return "share_confirm"
	case KindNewFileConfirm:
		return "new_file_confirm"
	case KindBreakPointConfirm:
		return "break_point_confirm"
	case KindFileDuplication:
		return "file_duplication"
	default:
		return fmt.Sprintf("unknown(%d)", int32(k))
	}
}
