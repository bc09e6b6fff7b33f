package server

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"vaultguard/internal/protocol"
	"vaultguard/internal/session"
)

// dispatch routes one decoded request. The returned drop flag tears the
// connection down after the response (if any) is written.
func (s *Server) dispatch(req *protocol.Request, peer string) (resp *protocol.Response, drop bool) {
	switch req.Code {
	case protocol.ReqRegister:
		return s.handleRegister(req, peer)
	case protocol.ReqSendPublicKey:
		return s.handleSendPublicKey(req, peer)
	case protocol.ReqReconnect:
		return s.handleReconnect(req, peer)
	case protocol.ReqSendFile:
		return s.handleSendFile(req, peer)
	case protocol.ReqCRCOk:
		return s.handleCRCVerdict(req, peer, true)
	case protocol.ReqCRCRetry, protocol.ReqCRCAbort:
		return s.handleCRCVerdict(req, peer, false)
	}
	// ReadRequest only admits request opcodes; anything else is a codec
	// bug, not a client error.
	s.log.Error().Uint16("opcode", uint16(req.Code)).Msg("unroutable opcode")
	return protocol.NewServerError(), true
}

func (s *Server) handleRegister(req *protocol.Request, peer string) (*protocol.Response, bool) {
	name, err := protocol.ParseRegister(req.Payload)
	if err != nil {
		s.log.Warn().Str("peer", peer).Err(err).Msg("bad register payload")
		return protocol.NewRegisterFail(), false
	}
	rec, err := s.gw.FindClientByName(name)
	if err != nil {
		s.log.Error().Str("name", name).Err(err).Msg("persisted client lookup failed")
		return protocol.NewServerError(), true
	}

	var c *session.Client
	if rec != nil {
		// The name belongs to a persisted identity with no live session
		// (idle-evicted, or registering again after losing its id). The
		// old id is adopted so the record and stored files stay attached;
		// key material is wiped below since a fresh handshake follows.
		id, perr := uuid.Parse(rec.ID)
		if perr != nil {
			s.log.Error().Str("name", name).Err(perr).Msg("persisted record has bad id")
			return protocol.NewServerError(), true
		}
		c = session.NewClient(id, name)
		if err := s.reg.Insert(c); err != nil {
			s.log.Info().Str("name", name).Msg("register rejected, name taken")
			// The connection stays open; the client may retry with
			// another name.
			return protocol.NewRegisterFail(), false
		}
	} else {
		c, err = s.reg.Register(name)
		if errors.Is(err, session.ErrNameTaken) {
			s.log.Info().Str("name", name).Msg("register rejected, name taken")
			return protocol.NewRegisterFail(), false
		}
		if err != nil {
			s.log.Error().Err(err).Msg("register failed")
			return protocol.NewServerError(), true
		}
	}
	if err := s.gw.SaveClient(c.ID, c.Name, nil, nil); err != nil {
		// Steady-state persistence failures keep the in-memory session;
		// the record is retried on the next save trigger.
		s.log.Error().Str("client", name).Err(err).Msg("persist client failed")
	}
	s.log.Info().Str("client", name).Str("id", c.ID.String()).Msg("client registered")
	return protocol.NewRegisterOK(c.ID), false
}

func (s *Server) handleSendPublicKey(req *protocol.Request, peer string) (*protocol.Response, bool) {
	name, keyField, err := protocol.ParseSendPublicKey(req.Payload)
	if err != nil {
		s.log.Warn().Str("peer", peer).Err(err).Msg("bad public key payload")
		return protocol.NewServerError(), true
	}
	c, ok := s.reg.Get(uuid.UUID(req.ClientID))
	if !ok || c.Name != name {
		s.log.Warn().Str("peer", peer).Str("name", name).Msg("public key from unknown identity")
		return protocol.NewServerError(), true
	}
	c.Touch()

	pub, err := s.crypto.ImportPublicKey(keyField)
	if err != nil {
		// Handshake-phase crypto failure: respond, then terminate.
		s.log.Warn().Str("client", c.Name).Err(err).Msg("public key rejected")
		return protocol.NewServerError(), true
	}
	c.SetPublicKey(pub, keyField)

	wrapped, err := s.grantSessionKey(c)
	if err != nil {
		s.log.Error().Str("client", c.Name).Err(err).Msg("session key grant failed")
		return protocol.NewServerError(), true
	}
	s.log.Info().Str("client", c.Name).Msg("key exchange complete")
	return protocol.NewKeyGrant(protocol.RespPubkeyAESSent, c.ID, wrapped), false
}

func (s *Server) handleReconnect(req *protocol.Request, peer string) (*protocol.Response, bool) {
	name, err := protocol.ParseReconnect(req.Payload)
	if err != nil {
		s.log.Warn().Str("peer", peer).Err(err).Msg("bad reconnect payload")
		return protocol.NewServerError(), true
	}
	id := uuid.UUID(req.ClientID)
	c, ok := s.reg.Get(id)
	if !ok {
		// Idle eviction drops the registry entry but not the record; the
		// identity is restored from persistence so reconnect still works.
		c = s.reviveClient(id, name)
	}
	if c == nil || c.Name != name {
		s.log.Info().Str("peer", peer).Str("name", name).Msg("reconnect denied, unknown identity")
		return protocol.NewReconnectDenied(id), false
	}
	c.Touch()
	if _, hasKey := c.PublicKey(); !hasKey {
		s.log.Info().Str("client", c.Name).Msg("reconnect denied, no public key on file")
		return protocol.NewReconnectDenied(id), false
	}
	// Every reconnect yields a fresh session key, never a reused one.
	wrapped, err := s.grantSessionKey(c)
	if err != nil {
		s.log.Error().Str("client", c.Name).Err(err).Msg("session key grant failed")
		return protocol.NewServerError(), true
	}
	s.log.Info().Str("client", c.Name).Msg("reconnect approved")
	return protocol.NewKeyGrant(protocol.RespReconnectAESSent, c.ID, wrapped), false
}

// grantSessionKey generates a fresh AES key, wraps it for the client's RSA
// key and installs it. The registry lock is never held here; all mutation
// goes through the client's own lock.
func (s *Server) grantSessionKey(c *session.Client) ([]byte, error) {
	pub, ok := c.PublicKey()
	if !ok {
		return nil, session.ErrNoSessionKey
	}
	key, err := s.crypto.NewSessionKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := s.crypto.WrapKey(pub, key)
	if err != nil {
		return nil, err
	}
	c.SetSessionKey(key)
	if err := s.gw.SaveClient(c.ID, c.Name, c.PublicKeyField(), key); err != nil {
		s.log.Error().Str("client", c.Name).Err(err).Msg("persist session key failed")
	}
	return wrapped, nil
}

func (s *Server) handleSendFile(req *protocol.Request, peer string) (*protocol.Response, bool) {
	c, ok := s.reg.Get(uuid.UUID(req.ClientID))
	if !ok {
		s.log.Warn().Str("peer", peer).Msg("file chunk from unknown identity")
		return protocol.NewServerError(), true
	}
	c.Touch()
	key, err := c.SessionKey()
	if err != nil {
		s.log.Warn().Str("client", c.Name).Msg("file chunk before key exchange")
		return protocol.NewServerError(), true
	}
	chunk, err := protocol.ParseFileChunk(req.Payload)
	if err != nil {
		s.log.Warn().Str("client", c.Name).Err(err).Msg("bad file chunk")
		return protocol.NewServerError(), true
	}
	plain, err := s.crypto.Decrypt(key, chunk.Content)
	if err != nil {
		s.log.Warn().Str("client", c.Name).Str("file", chunk.Filename).Err(err).Msg("chunk decrypt failed")
		return protocol.NewServerError(), true
	}

	done, err := c.AppendChunk(chunk.Filename, chunk.ChunkNum, chunk.TotalChunks,
		uint64(chunk.OrigSize), plain, s.opts.MaxFileSize)
	if err != nil {
		s.log.Warn().Str("client", c.Name).Str("file", chunk.Filename).Err(err).Msg("transfer aborted")
		return protocol.NewServerError(), true
	}
	if done == nil {
		// Intermediate chunk; the client keeps streaming.
		return nil, false
	}
	return s.finalizeUpload(c, done)
}

func (s *Server) finalizeUpload(c *session.Client, done *session.Assembled) (*protocol.Response, bool) {
	path := s.storagePath(c.ID, done.Filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.log.Error().Err(err).Msg("create storage dir failed")
		return protocol.NewServerError(), true
	}
	if err := os.WriteFile(path, done.Data, 0o644); err != nil {
		s.log.Error().Str("path", path).Err(err).Msg("write stored file failed")
		return protocol.NewServerError(), true
	}
	now := time.Now()
	if err := s.gw.SaveFile(c.ID, done.Filename, path, false, int64(len(done.Data)), now, done.CRC); err != nil {
		s.log.Error().Str("client", c.Name).Str("file", done.Filename).Err(err).Msg("persist file record failed")
	}
	s.log.Info().Str("client", c.Name).Str("file", done.Filename).
		Int("size", len(done.Data)).Uint32("crc", done.CRC).Msg("upload finalized")

	resp, err := protocol.NewFileCRC(c.ID, uint32(len(done.Data)), done.Filename, done.CRC)
	if err != nil {
		s.log.Error().Err(err).Msg("encode file crc failed")
		return protocol.NewServerError(), true
	}
	return resp, false
}

// handleCRCVerdict covers REQ_CRC_OK (verified true) and the retry/abort
// pair, which both discard the unverified stored copy.
func (s *Server) handleCRCVerdict(req *protocol.Request, peer string, verified bool) (*protocol.Response, bool) {
	c, ok := s.reg.Get(uuid.UUID(req.ClientID))
	if !ok {
		s.log.Warn().Str("peer", peer).Msg("crc verdict from unknown identity")
		return protocol.NewServerError(), true
	}
	c.Touch()
	filename, err := protocol.ParseFilename(req.Payload)
	if err != nil {
		s.log.Warn().Str("client", c.Name).Err(err).Msg("bad crc verdict payload")
		return protocol.NewServerError(), true
	}
	if verified {
		if err := s.gw.SetFileVerified(c.ID, filename, true); err != nil {
			s.log.Error().Str("client", c.Name).Str("file", filename).Err(err).Msg("mark verified failed")
		} else {
			s.log.Info().Str("client", c.Name).Str("file", filename).Msg("file verified")
		}
		return protocol.NewAck(c.ID), false
	}

	c.DropTransfer(filename)
	path := s.storagePath(c.ID, filename)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn().Str("path", path).Err(err).Msg("remove discarded file failed")
	}
	if err := s.gw.DeleteFile(c.ID, filename); err != nil {
		s.log.Error().Str("client", c.Name).Str("file", filename).Err(err).Msg("delete file record failed")
	}
	s.log.Info().Str("client", c.Name).Str("file", filename).Msg("unverified upload discarded")
	return protocol.NewAck(c.ID), false
}

func (s *Server) storagePath(id uuid.UUID, filename string) string {
	return filepath.Join(s.opts.StorageDir, id.String(), filepath.Base(filename))
}
