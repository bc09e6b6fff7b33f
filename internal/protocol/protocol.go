package protocol

// Wire limits shared by codec, reassembly and the connection handlers.
const (
	Version = 3

	ClientIDLen  = 16
	NameFieldLen = 101 // 100 usable bytes plus terminator
	MaxNameLen   = 100
	FileFieldLen = 255
	MaxFileLen   = 250
	PublicKeyLen = 160
	AESKeyLen    = 32

	// Upper bound for a single framed payload. Chunks are capped well
	// below this by senders; the slack covers the chunk header fields.
	MaxPayloadLen = 16*1024*1024 + 1024

	// Largest original (decrypted, reassembled) file size accepted.
	MaxFileSize = 4 * 1024 * 1024 * 1024
)

// Opcode tags a protocol message. Requests are 1025-1031, responses
// 1600-1607.
type Opcode uint16

const (
	ReqRegister      Opcode = 1025
	ReqSendPublicKey Opcode = 1026
	ReqReconnect     Opcode = 1027
	ReqSendFile      Opcode = 1028
	ReqCRCOk         Opcode = 1029
	ReqCRCRetry      Opcode = 1030
	ReqCRCAbort      Opcode = 1031

	RespRegisterOK       Opcode = 1600
	RespRegisterFail     Opcode = 1601
	RespPubkeyAESSent    Opcode = 1602
	RespFileCRC          Opcode = 1603
	RespAck              Opcode = 1604
	RespReconnectAESSent Opcode = 1605
	RespReconnectDenied  Opcode = 1606
	RespServerError      Opcode = 1607
)

func (o Opcode) String() string {
	switch o {
	case ReqRegister:
		return "REQ_REGISTER"
	case ReqSendPublicKey:
		return "REQ_SEND_PUBLIC_KEY"
	case ReqReconnect:
		return "REQ_RECONNECT"
	case ReqSendFile:
		return "REQ_SEND_FILE"
	case ReqCRCOk:
		return "REQ_CRC_OK"
	case ReqCRCRetry:
		return "REQ_CRC_RETRY"
	case ReqCRCAbort:
		return "REQ_CRC_ABORT"
	case RespRegisterOK:
		return "RESP_REGISTER_OK"
	case RespRegisterFail:
		return "RESP_REGISTER_FAIL"
	case RespPubkeyAESSent:
		return "RESP_PUBKEY_AES_SENT"
	case RespFileCRC:
		return "RESP_FILE_CRC"
	case RespAck:
		return "RESP_ACK"
	case RespReconnectAESSent:
		return "RESP_RECONNECT_AES_SENT"
	case RespReconnectDenied:
		return "RESP_RECONNECT_DENIED"
	case RespServerError:
		return "RESP_SERVER_ERROR"
	}
	return "UNKNOWN"
}

// IsRequest reports whether the opcode is one a client may send.
func (o Opcode) IsRequest() bool {
	return o >= ReqRegister && o <= ReqCRCAbort
}
