package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Framing is little-endian throughout.
// Request:  client id[16] | version[1] | opcode[2] | payload len[4] | payload
// Response: version[1] | opcode[2] | payload len[4] | payload

const (
	requestHeaderLen  = ClientIDLen + 1 + 2 + 4
	responseHeaderLen = 1 + 2 + 4

	chunkHeaderLen = 4 + 4 + 2 + 2 + FileFieldLen
)

var (
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds read bound")
	ErrBadVersion      = errors.New("protocol: unsupported version")
	ErrBadOpcode       = errors.New("protocol: not a request opcode")
	ErrBadField        = errors.New("protocol: malformed string field")
	ErrShortPayload    = errors.New("protocol: payload too short")
)

// Request is one decoded client frame.
type Request struct {
	ClientID [ClientIDLen]byte
	Version  uint8
	Code     Opcode
	Payload  []byte
}

// Response is one server frame ready for encoding.
type Response struct {
	Code    Opcode
	Payload []byte
}

// ReadRequest reads and validates exactly one framed request.
func ReadRequest(r io.Reader) (*Request, error) {
	var hdr [requestHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	req := &Request{Version: hdr[ClientIDLen]}
	copy(req.ClientID[:], hdr[:ClientIDLen])
	req.Code = Opcode(binary.LittleEndian.Uint16(hdr[ClientIDLen+1:]))
	size := binary.LittleEndian.Uint32(hdr[ClientIDLen+3:])

	if req.Version != Version {
		return nil, fmt.Errorf("%w: got %d", ErrBadVersion, req.Version)
	}
	if !req.Code.IsRequest() {
		return nil, fmt.Errorf("%w: %d", ErrBadOpcode, uint16(req.Code))
	}
	if size > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, size)
	}
	if size > 0 {
		req.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, req.Payload); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// WriteRequest encodes a request frame. Used by test clients.
func WriteRequest(w io.Writer, req *Request) error {
	buf := make([]byte, requestHeaderLen, requestHeaderLen+len(req.Payload))
	copy(buf, req.ClientID[:])
	buf[ClientIDLen] = Version
	binary.LittleEndian.PutUint16(buf[ClientIDLen+1:], uint16(req.Code))
	binary.LittleEndian.PutUint32(buf[ClientIDLen+3:], uint32(len(req.Payload)))
	buf = append(buf, req.Payload...)
	_, err := w.Write(buf)
	return err
}

// WriteResponse encodes one response frame. Encoding never fails on valid
// in-memory data; only the underlying write can error.
func WriteResponse(w io.Writer, resp *Response) error {
	buf := make([]byte, responseHeaderLen, responseHeaderLen+len(resp.Payload))
	buf[0] = Version
	binary.LittleEndian.PutUint16(buf[1:], uint16(resp.Code))
	binary.LittleEndian.PutUint32(buf[3:], uint32(len(resp.Payload)))
	buf = append(buf, resp.Payload...)
	_, err := w.Write(buf)
	return err
}

// ReadResponse decodes one response frame. Used by test clients.
func ReadResponse(r io.Reader) (*Response, error) {
	var hdr [responseHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != Version {
		return nil, fmt.Errorf("%w: got %d", ErrBadVersion, hdr[0])
	}
	resp := &Response{Code: Opcode(binary.LittleEndian.Uint16(hdr[1:]))}
	size := binary.LittleEndian.Uint32(hdr[3:])
	if size > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, size)
	}
	if size > 0 {
		resp.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, resp.Payload); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// packString writes s into a fixed-width, zero-padded, NUL-terminated field.
func packString(s string, width, max int) ([]byte, error) {
	if s == "" || len(s) > max {
		return nil, fmt.Errorf("%w: length %d (max %d)", ErrBadField, len(s), max)
	}
	field := make([]byte, width)
	copy(field, s)
	return field, nil
}

// unpackString extracts the NUL-terminated content of a fixed-width field.
func unpackString(field []byte, max int) (string, error) {
	i := bytes.IndexByte(field, 0)
	if i < 0 {
		return "", fmt.Errorf("%w: missing terminator", ErrBadField)
	}
	if i == 0 || i > max {
		return "", fmt.Errorf("%w: length %d (max %d)", ErrBadField, i, max)
	}
	if !utf8.Valid(field[:i]) {
		return "", fmt.Errorf("%w: invalid utf-8", ErrBadField)
	}
	return string(field[:i]), nil
}

// ParseRegister decodes a REQ_REGISTER payload.
func ParseRegister(payload []byte) (string, error) {
	if len(payload) != NameFieldLen {
		return "", fmt.Errorf("%w: register payload %d bytes", ErrShortPayload, len(payload))
	}
	return unpackString(payload, MaxNameLen)
}

// ParseSendPublicKey decodes a REQ_SEND_PUBLIC_KEY payload into the client
// name and the raw 160-byte key field.
func ParseSendPublicKey(payload []byte) (string, []byte, error) {
	if len(payload) != NameFieldLen+PublicKeyLen {
		return "", nil, fmt.Errorf("%w: key payload %d bytes", ErrShortPayload, len(payload))
	}
	name, err := unpackString(payload[:NameFieldLen], MaxNameLen)
	if err != nil {
		return "", nil, err
	}
	key := make([]byte, PublicKeyLen)
	copy(key, payload[NameFieldLen:])
	return name, key, nil
}

// ParseReconnect decodes a REQ_RECONNECT payload.
func ParseReconnect(payload []byte) (string, error) {
	if len(payload) != NameFieldLen {
		return "", fmt.Errorf("%w: reconnect payload %d bytes", ErrShortPayload, len(payload))
	}
	return unpackString(payload, MaxNameLen)
}

// FileChunk is one decoded REQ_SEND_FILE payload.
type FileChunk struct {
	ContentSize uint32 // encrypted bytes in this frame
	OrigSize    uint32 // declared size of the whole decrypted file
	ChunkNum    uint16
	TotalChunks uint16
	Filename    string
	Content     []byte
}

// Last reports whether this is the final chunk of the transfer.
func (c *FileChunk) Last() bool { return c.ChunkNum == c.TotalChunks }

// ParseFileChunk decodes a REQ_SEND_FILE payload.
func ParseFileChunk(payload []byte) (*FileChunk, error) {
	if len(payload) < chunkHeaderLen {
		return nil, fmt.Errorf("%w: chunk payload %d bytes", ErrShortPayload, len(payload))
	}
	c := &FileChunk{
		ContentSize: binary.LittleEndian.Uint32(payload),
		OrigSize:    binary.LittleEndian.Uint32(payload[4:]),
		ChunkNum:    binary.LittleEndian.Uint16(payload[8:]),
		TotalChunks: binary.LittleEndian.Uint16(payload[10:]),
	}
	name, err := unpackString(payload[12:12+FileFieldLen], MaxFileLen)
	if err != nil {
		return nil, err
	}
	c.Filename = name
	c.Content = payload[chunkHeaderLen:]
	if uint32(len(c.Content)) != c.ContentSize {
		return nil, fmt.Errorf("%w: declared %d content bytes, got %d",
			ErrBadField, c.ContentSize, len(c.Content))
	}
	if c.ChunkNum == 0 || c.TotalChunks == 0 || c.ChunkNum > c.TotalChunks {
		return nil, fmt.Errorf("%w: chunk %d of %d", ErrBadField, c.ChunkNum, c.TotalChunks)
	}
	return c, nil
}

// EncodeFileChunk builds a REQ_SEND_FILE payload. Used by test clients.
func EncodeFileChunk(c *FileChunk) ([]byte, error) {
	field, err := packString(c.Filename, FileFieldLen, MaxFileLen)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, chunkHeaderLen, chunkHeaderLen+len(c.Content))
	binary.LittleEndian.PutUint32(buf, uint32(len(c.Content)))
	binary.LittleEndian.PutUint32(buf[4:], c.OrigSize)
	binary.LittleEndian.PutUint16(buf[8:], c.ChunkNum)
	binary.LittleEndian.PutUint16(buf[10:], c.TotalChunks)
	copy(buf[12:], field)
	return append(buf, c.Content...), nil
}

// ParseFilename decodes the bare filename payload of the CRC requests.
func ParseFilename(payload []byte) (string, error) {
	if len(payload) != FileFieldLen {
		return "", fmt.Errorf("%w: filename payload %d bytes", ErrShortPayload, len(payload))
	}
	return unpackString(payload, MaxFileLen)
}

// EncodeRegister builds a REQ_REGISTER / REQ_RECONNECT payload.
func EncodeRegister(name string) ([]byte, error) {
	return packString(name, NameFieldLen, MaxNameLen)
}

// EncodeSendPublicKey builds a REQ_SEND_PUBLIC_KEY payload.
func EncodeSendPublicKey(name string, key []byte) ([]byte, error) {
	if len(key) != PublicKeyLen {
		return nil, fmt.Errorf("%w: key field %d bytes", ErrBadField, len(key))
	}
	field, err := packString(name, NameFieldLen, MaxNameLen)
	if err != nil {
		return nil, err
	}
	return append(field, key...), nil
}

// EncodeFilename builds the bare filename payload of the CRC requests.
func EncodeFilename(name string) ([]byte, error) {
	return packString(name, FileFieldLen, MaxFileLen)
}

// NewRegisterOK builds a RESP_REGISTER_OK carrying the assigned id.
func NewRegisterOK(id [ClientIDLen]byte) *Response {
	return &Response{Code: RespRegisterOK, Payload: id[:]}
}

// NewRegisterFail builds a RESP_REGISTER_FAIL.
func NewRegisterFail() *Response { return &Response{Code: RespRegisterFail} }

// NewKeyGrant builds a RESP_PUBKEY_AES_SENT or RESP_RECONNECT_AES_SENT
// carrying the client id and the RSA-wrapped session key.
func NewKeyGrant(code Opcode, id [ClientIDLen]byte, wrapped []byte) *Response {
	payload := make([]byte, 0, ClientIDLen+len(wrapped))
	payload = append(payload, id[:]...)
	payload = append(payload, wrapped...)
	return &Response{Code: code, Payload: payload}
}

// NewReconnectDenied builds a RESP_RECONNECT_DENIED.
func NewReconnectDenied(id [ClientIDLen]byte) *Response {
	return &Response{Code: RespReconnectDenied, Payload: id[:]}
}

// NewFileCRC builds a RESP_FILE_CRC: id, content size, filename field, CRC.
func NewFileCRC(id [ClientIDLen]byte, size uint32, filename string, crc uint32) (*Response, error) {
	field, err := packString(filename, FileFieldLen, MaxFileLen)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, ClientIDLen+4+FileFieldLen+4)
	copy(payload, id[:])
	binary.LittleEndian.PutUint32(payload[ClientIDLen:], size)
	copy(payload[ClientIDLen+4:], field)
	binary.LittleEndian.PutUint32(payload[ClientIDLen+4+FileFieldLen:], crc)
	return &Response{Code: RespFileCRC, Payload: payload}, nil
}

// ParseFileCRC decodes a RESP_FILE_CRC payload. Used by test clients.
func ParseFileCRC(payload []byte) (size uint32, filename string, crc uint32, err error) {
	if len(payload) != ClientIDLen+4+FileFieldLen+4 {
		return 0, "", 0, fmt.Errorf("%w: crc payload %d bytes", ErrShortPayload, len(payload))
	}
	size = binary.LittleEndian.Uint32(payload[ClientIDLen:])
	filename, err = unpackString(payload[ClientIDLen+4:ClientIDLen+4+FileFieldLen], MaxFileLen)
	if err != nil {
		return 0, "", 0, err
	}
	crc = binary.LittleEndian.Uint32(payload[ClientIDLen+4+FileFieldLen:])
	return size, filename, crc, nil
}

// NewAck builds a RESP_ACK carrying the client id.
func NewAck(id [ClientIDLen]byte) *Response {
	return &Response{Code: RespAck, Payload: id[:]}
}

// NewServerError builds a RESP_SERVER_ERROR.
func NewServerError() *Response { return &Response{Code: RespServerError} }
