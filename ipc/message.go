package ipc

import (
	"bytes"
	"encoding/binary"

	"ghostjail/errors"
	"ghostjail/result"
)

// MsgType tags an IPC message.
type MsgType uint8

const (
	MsgHello MsgType = iota
	MsgQuit
	MsgNewSubjail
	MsgSubjailAlive
	MsgScriptString
	MsgScriptFile
	MsgHostVariable
	MsgScriptCall
	MsgScriptInfo
	MsgScriptResult
	MsgFunctionCall
	MsgFunctionReturn
)

func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "Hello"
	case MsgQuit:
		return "Quit"
	case MsgNewSubjail:
		return "NewSubjail"
	case MsgSubjailAlive:
		return "SubjailAlive"
	case MsgScriptString:
		return "ScriptString"
	case MsgScriptFile:
		return "ScriptFile"
	case MsgHostVariable:
		return "HostVariable"
	case MsgScriptCall:
		return "ScriptCall"
	case MsgScriptInfo:
		return "ScriptInfo"
	case MsgScriptResult:
		return "ScriptResult"
	case MsgFunctionCall:
		return "FunctionCall"
	case MsgFunctionReturn:
		return "FunctionReturn"
	default:
		return "Unknown"
	}
}

// Size limits. The per-field limits keep every fixed-layout message under
// MaxMessageSize (the largest is a ScriptString of MaxInlineText bytes);
// a HostVariable's value bytes have no field limit, and Marshal refuses
// any message that would exceed the ceiling.
const (
	MaxMessageSize  = 10 * 1024
	MaxInlineText   = 4096
	MaxChunkName    = 256
	MaxFuncName     = 256
	MaxScriptIDLen  = 64
	MaxErrorMsgLen  = 512
	MaxCallArgs     = 16
	MaxVarNameLen   = 256
	maxRemotePtrs   = MaxCallArgs
	remotePtrWire   = 16 // addr(8) + size(8)
)

// RemotePtr names a (address, size) pair in a foreign address space, used by
// FunctionCall to describe a caller's argument buffers and return buffer.
type RemotePtr struct {
	Addr uintptr
	Size uint64
}

// Message is one tagged IPC record. Every variant's fields live in one
// struct; only the fields belonging to Type are meaningful.
type Message struct {
	Type MsgType

	// Hello
	PID int32

	// SubjailAlive
	SubjailIndex int32
	SubjailPID   int32

	// ScriptString
	ScriptText string

	// ScriptFile (fd carried out-of-band via SCM_RIGHTS)
	ChunkName string

	// HostVariable
	VarName             string
	VarValueBytes       []byte
	HasStringTableIndex bool
	StringTableIndex    int32

	// ScriptCall (fd carried out-of-band via SCM_RIGHTS)
	CallName      string
	OccupiedBytes uint64
	ArgPtrs       []uint64

	// ScriptInfo / ScriptResult
	ScriptID     string
	Result       result.Result
	ErrorMessage string
	HasReturnPtr bool
	ReturnPtr    uint64

	// FunctionCall
	FuncName     string
	RemoteArgs   []RemotePtr
	RemoteReturn RemotePtr

	// FunctionReturn carries Result and an optional fd (out-of-band).
}

// carriesFD reports whether a message type's wire form is accompanied by
// one ancillary fd: NewSubjail, ScriptFile and ScriptCall always carry one
// (the direct-channel end, the script source fd and the shared-memory
// arena fd respectively); FunctionReturn carries one only when a handler
// produced it.
func carriesFD(t MsgType) bool {
	switch t {
	case MsgNewSubjail, MsgScriptFile, MsgScriptCall, MsgFunctionReturn:
		return true
	default:
		return false
	}
}

func writeString(buf *bytes.Buffer, s string, maxLen int) {
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader, maxLen int) (string, error) {
	var lenBuf [4]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return "", errors.Wrap(err, errors.ErrIPC, "ipc.readString")
	}
	n := int(binary.LittleEndian.Uint32(lenBuf[:]))
	if n < 0 || n > maxLen {
		n = maxLen
	}
	if r.Len() < n {
		return "", errors.New(errors.ErrIPC, "ipc.readString", "truncated string field")
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", errors.Wrap(err, errors.ErrIPC, "ipc.readString")
	}
	return string(b), nil
}

// Marshal serializes m into its wire form, erroring if the result would
// exceed MaxMessageSize.
func Marshal(m Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Type))

	switch m.Type {
	case MsgHello:
		binary.Write(&buf, binary.LittleEndian, m.PID)
	case MsgQuit:
		// no payload
	case MsgNewSubjail:
		// no payload beyond the ancillary fd
	case MsgSubjailAlive:
		binary.Write(&buf, binary.LittleEndian, m.SubjailIndex)
		binary.Write(&buf, binary.LittleEndian, m.SubjailPID)
	case MsgScriptString:
		writeString(&buf, m.ScriptText, MaxInlineText)
	case MsgScriptFile:
		writeString(&buf, m.ChunkName, MaxChunkName)
	case MsgHostVariable:
		writeString(&buf, m.VarName, MaxVarNameLen)
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(m.VarValueBytes)))
		buf.Write(lenBuf[:])
		buf.Write(m.VarValueBytes)
		buf.WriteByte(boolByte(m.HasStringTableIndex))
		binary.Write(&buf, binary.LittleEndian, m.StringTableIndex)
	case MsgScriptCall:
		writeString(&buf, m.CallName, MaxFuncName)
		binary.Write(&buf, binary.LittleEndian, m.OccupiedBytes)
		if len(m.ArgPtrs) > MaxCallArgs {
			return nil, errors.New(errors.ErrIPC, "ipc.Marshal", "too many call arg pointers")
		}
		buf.WriteByte(byte(len(m.ArgPtrs)))
		for _, p := range m.ArgPtrs {
			binary.Write(&buf, binary.LittleEndian, p)
		}
	case MsgScriptInfo:
		writeString(&buf, m.ScriptID, MaxScriptIDLen)
	case MsgScriptResult:
		writeString(&buf, m.ScriptID, MaxScriptIDLen)
		binary.Write(&buf, binary.LittleEndian, uint32(m.Result))
		writeString(&buf, m.ErrorMessage, MaxErrorMsgLen)
		buf.WriteByte(boolByte(m.HasReturnPtr))
		binary.Write(&buf, binary.LittleEndian, m.ReturnPtr)
	case MsgFunctionCall:
		writeString(&buf, m.FuncName, MaxFuncName)
		if len(m.RemoteArgs) > maxRemotePtrs {
			return nil, errors.New(errors.ErrIPC, "ipc.Marshal", "too many remote args")
		}
		buf.WriteByte(byte(len(m.RemoteArgs)))
		for _, a := range m.RemoteArgs {
			binary.Write(&buf, binary.LittleEndian, uint64(a.Addr))
			binary.Write(&buf, binary.LittleEndian, a.Size)
		}
		binary.Write(&buf, binary.LittleEndian, uint64(m.RemoteReturn.Addr))
		binary.Write(&buf, binary.LittleEndian, m.RemoteReturn.Size)
	case MsgFunctionReturn:
		binary.Write(&buf, binary.LittleEndian, uint32(m.Result))
	default:
		return nil, errors.New(errors.ErrIPC, "ipc.Marshal", "unknown message type")
	}

	if buf.Len() > MaxMessageSize {
		return nil, errors.New(errors.ErrIPC, "ipc.Marshal", "message exceeds maximum size")
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a received datagram into a Message, defensively
// sanitizing inline text fields: a corrupted length prefix is clamped
// rather than trusted, so a buffer from an untrusted subjail cannot, by
// construction, overflow these bounds.
func Unmarshal(data []byte) (Message, error) {
	if len(data) < 1 {
		return Message{}, errors.New(errors.ErrIPC, "ipc.Unmarshal", "message smaller than minimum size")
	}
	r := bytes.NewReader(data[1:])
	m := Message{Type: MsgType(data[0])}

	switch m.Type {
	case MsgHello:
		binary.Read(r, binary.LittleEndian, &m.PID)
	case MsgQuit, MsgNewSubjail:
		// no payload
	case MsgSubjailAlive:
		binary.Read(r, binary.LittleEndian, &m.SubjailIndex)
		binary.Read(r, binary.LittleEndian, &m.SubjailPID)
	case MsgScriptString:
		s, err := readString(r, MaxInlineText)
		if err != nil {
			return Message{}, err
		}
		m.ScriptText = s
	case MsgScriptFile:
		s, err := readString(r, MaxChunkName)
		if err != nil {
			return Message{}, err
		}
		m.ChunkName = s
	case MsgHostVariable:
		s, err := readString(r, MaxVarNameLen)
		if err != nil {
			return Message{}, err
		}
		m.VarName = s
		var lenBuf [4]byte
		r.Read(lenBuf[:])
		n := int(binary.LittleEndian.Uint32(lenBuf[:]))
		if n < 0 || n > r.Len() {
			n = r.Len()
		}
		m.VarValueBytes = make([]byte, n)
		r.Read(m.VarValueBytes)
		flag, _ := r.ReadByte()
		m.HasStringTableIndex = flag != 0
		binary.Read(r, binary.LittleEndian, &m.StringTableIndex)
	case MsgScriptCall:
		s, err := readString(r, MaxFuncName)
		if err != nil {
			return Message{}, err
		}
		m.CallName = s
		binary.Read(r, binary.LittleEndian, &m.OccupiedBytes)
		count, _ := r.ReadByte()
		if int(count) > MaxCallArgs {
			count = MaxCallArgs
		}
		m.ArgPtrs = make([]uint64, count)
		for i := range m.ArgPtrs {
			binary.Read(r, binary.LittleEndian, &m.ArgPtrs[i])
		}
	case MsgScriptInfo:
		s, err := readString(r, MaxScriptIDLen)
		if err != nil {
			return Message{}, err
		}
		m.ScriptID = s
	case MsgScriptResult:
		s, err := readString(r, MaxScriptIDLen)
		if err != nil {
			return Message{}, err
		}
		m.ScriptID = s
		var res uint32
		binary.Read(r, binary.LittleEndian, &res)
		m.Result = result.Result(res)
		errMsg, err := readString(r, MaxErrorMsgLen)
		if err != nil {
			return Message{}, err
		}
		m.ErrorMessage = errMsg
		flag, _ := r.ReadByte()
		m.HasReturnPtr = flag != 0
		binary.Read(r, binary.LittleEndian, &m.ReturnPtr)
	case MsgFunctionCall:
		s, err := readString(r, MaxFuncName)
		if err != nil {
			return Message{}, err
		}
		m.FuncName = s
		count, _ := r.ReadByte()
		if int(count) > maxRemotePtrs {
			count = maxRemotePtrs
		}
		m.RemoteArgs = make([]RemotePtr, count)
		for i := range m.RemoteArgs {
			var addr, size uint64
			binary.Read(r, binary.LittleEndian, &addr)
			binary.Read(r, binary.LittleEndian, &size)
			m.RemoteArgs[i] = RemotePtr{Addr: uintptr(addr), Size: size}
		}
		var addr, size uint64
		binary.Read(r, binary.LittleEndian, &addr)
		binary.Read(r, binary.LittleEndian, &size)
		m.RemoteReturn = RemotePtr{Addr: uintptr(addr), Size: size}
	case MsgFunctionReturn:
		var res uint32
		binary.Read(r, binary.LittleEndian, &res)
		m.Result = result.Result(res)
	default:
		return Message{}, errors.New(errors.ErrIPC, "ipc.Unmarshal", "unknown message type")
	}
	return m, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
