// Package facade is the management surface consumed by external dashboards
// and CLIs. Every operation returns the uniform success/data/error
// envelope and carries no protocol logic: each is a thin read or mutation
// of the registry and the persistence gateway.
package facade

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vaultguard/internal/session"
	"vaultguard/internal/store"
)

// Response is the uniform envelope of every management operation.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(data any) Response     { return Response{Success: true, Data: data} }
func fail(msg string) Response { return Response{Success: false, Error: msg} }

// ServerInfo is the slice of the running server the facade reports on.
type ServerInfo interface {
	Uptime() time.Duration
	MaxClients() int
	Addr() string
}

type ClientSummary struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Online   bool      `json:"online"`
	HasKey   bool      `json:"has_key"`
	LastSeen time.Time `json:"last_seen"`
}

type FileSummary struct {
	FileName string    `json:"file_name"`
	Path     string    `json:"path"`
	Verified bool      `json:"verified"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	CRC      uint32    `json:"crc"`
}

type Status struct {
	Addr           string `json:"addr"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ActiveSessions int    `json:"active_sessions"`
	OpenTransfers  int    `json:"open_transfers"`
	MaxClients     int    `json:"max_clients"`
}

type DatabaseInfo struct {
	Driver  string `json:"driver"`
	Clients int64  `json:"clients"`
	Files   int64  `json:"files"`
}

type Facade struct {
	reg    *session.Registry
	gw     store.Gateway
	info   ServerInfo
	auth   *Auth
	driver string
	log    zerolog.Logger
}

func New(reg *session.Registry, gw store.Gateway, info ServerInfo, auth *Auth, driver string, log zerolog.Logger) *Facade {
	return &Facade{reg: reg, gw: gw, info: info, auth: auth, driver: driver, log: log}
}

// Login issues a management token for the configured admin credential.
func (f *Facade) Login(username, password string) Response {
	token, err := f.auth.Login(username, password)
	if err != nil {
		return fail(err.Error())
	}
	return ok(map[string]string{"token": token})
}

// ListClients merges persisted records with live session state.
func (f *Facade) ListClients() Response {
	recs, err := f.gw.LoadClients()
	if err != nil {
		return fail(err.Error())
	}
	out := make([]ClientSummary, 0, len(recs))
	for _, rec := range recs {
		sum := ClientSummary{
			ID:       rec.ID,
			Name:     rec.Name,
			HasKey:   len(rec.PublicKey) > 0,
			LastSeen: rec.LastSeen,
		}
		if c, live := f.reg.GetByName(rec.Name); live {
			sum.Online = true
			sum.LastSeen = c.LastSeen()
		}
		out = append(out, sum)
	}
	return ok(out)
}

// ListFiles returns the stored files of one client.
func (f *Facade) ListFiles(clientID string) Response {
	id, err := uuid.Parse(clientID)
	if err != nil {
		return fail("bad client id")
	}
	recs, err := f.gw.ListFiles(id)
	if err != nil {
		return fail(err.Error())
	}
	out := make([]FileSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FileSummary{
			FileName: rec.FileName,
			Path:     rec.PathName,
			Verified: rec.Verified,
			Size:     rec.Size,
			ModTime:  rec.ModTime,
			CRC:      rec.CRC,
		})
	}
	return ok(out)
}

// AddClient pre-registers a name, as if the client had sent REQ_REGISTER.
func (f *Facade) AddClient(token, name string) Response {
	if err := f.auth.Check(token); err != nil {
		return fail(err.Error())
	}
	if name == "" || len(name) > 100 {
		return fail("invalid name")
	}
	c, err := f.reg.Register(name)
	if err != nil {
		return fail(err.Error())
	}
	if err := f.gw.SaveClient(c.ID, c.Name, nil, nil); err != nil {
		f.log.Error().Str("client", name).Err(err).Msg("persist added client failed")
		return fail(err.Error())
	}
	f.log.Info().Str("client", name).Str("id", c.ID.String()).Msg("client added via management")
	return ok(map[string]string{"id": c.ID.String()})
}

// DisconnectClient evicts the in-memory session; persisted records stay.
func (f *Facade) DisconnectClient(token, clientID string) Response {
	if err := f.auth.Check(token); err != nil {
		return fail(err.Error())
	}
	id, err := uuid.Parse(clientID)
	if err != nil {
		return fail("bad client id")
	}
	if !f.reg.Remove(id) {
		return fail("no live session")
	}
	f.log.Info().Str("id", clientID).Msg("session disconnected via management")
	return ok(nil)
}

// DeleteClient removes the live session and the persisted records.
func (f *Facade) DeleteClient(token, clientID string) Response {
	if err := f.auth.Check(token); err != nil {
		return fail(err.Error())
	}
	id, err := uuid.Parse(clientID)
	if err != nil {
		return fail("bad client id")
	}
	f.reg.Remove(id)
	if err := f.gw.DeleteClient(id); err != nil {
		return fail(err.Error())
	}
	f.log.Info().Str("id", clientID).Msg("client deleted via management")
	return ok(nil)
}

// DeleteFile removes one stored file record.
func (f *Facade) DeleteFile(token, clientID, fileName string) Response {
	if err := f.auth.Check(token); err != nil {
		return fail(err.Error())
	}
	id, err := uuid.Parse(clientID)
	if err != nil {
		return fail("bad client id")
	}
	if err := f.gw.DeleteFile(id, fileName); err != nil {
		return fail(err.Error())
	}
	return ok(nil)
}

// ServerStatus reports live engine state.
func (f *Facade) ServerStatus() Response {
	return ok(Status{
		Addr:           f.info.Addr(),
		UptimeSeconds:  int64(f.info.Uptime() / time.Second),
		ActiveSessions: f.reg.Len(),
		OpenTransfers:  f.reg.TransferCount(),
		MaxClients:     f.info.MaxClients(),
	})
}

// DatabaseInfo reports the backing store and record counts.
func (f *Facade) DatabaseInfo() Response {
	clients, files, err := f.gw.Counts()
	if err != nil {
		return fail(err.Error())
	}
	return ok(DatabaseInfo{Driver: f.driver, Clients: clients, Files: files})
}
