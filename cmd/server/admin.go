package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"vaultguard/internal/facade"
)

// serveAdmin exposes the management facade as a local JSON endpoint.
// Authentication lives in the facade itself; this layer only decodes
// requests and writes the uniform envelope back.
func serveAdmin(addr string, f *facade.Facade, log zerolog.Logger) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Username, Password string }
		if !decode(w, r, &req) {
			return
		}
		writeJSON(w, f.Login(req.Username, req.Password))
	})
	mux.HandleFunc("GET /clients", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.ListClients())
	})
	mux.HandleFunc("GET /clients/{id}/files", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.ListFiles(r.PathValue("id")))
	})
	mux.HandleFunc("POST /clients", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Name string }
		if !decode(w, r, &req) {
			return
		}
		writeJSON(w, f.AddClient(token(r), req.Name))
	})
	mux.HandleFunc("POST /clients/{id}/disconnect", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.DisconnectClient(token(r), r.PathValue("id")))
	})
	mux.HandleFunc("DELETE /clients/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.DeleteClient(token(r), r.PathValue("id")))
	})
	mux.HandleFunc("DELETE /clients/{id}/files/{name}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.DeleteFile(token(r), r.PathValue("id"), r.PathValue("name")))
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.ServerStatus())
	})
	mux.HandleFunc("GET /db", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.DatabaseInfo())
	})

	go func() {
		if err := http.Serve(ln, mux); err != nil && !isClosed(err) {
			log.Error().Err(err).Msg("admin listener failed")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("management listener up")
	return ln, nil
}

func token(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, facade.Response{Success: false, Error: "bad request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, resp facade.Response) {
	w.Header().Set("Content-Type", "application/json")
	if !resp.Success {
		w.WriteHeader(http.StatusBadRequest)
	}
	json.NewEncoder(w).Encode(resp)
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed)
}
