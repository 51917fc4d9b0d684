package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/shahidanowar/Meshage/internal/connmgr"
	"github.com/shahidanowar/Meshage/internal/core"
	"github.com/shahidanowar/Meshage/internal/engine"
	"github.com/shahidanowar/Meshage/internal/friendship"
	"github.com/shahidanowar/Meshage/internal/router"
	"github.com/shahidanowar/Meshage/internal/store"
)

//go:embed static/*
var staticFiles embed.FS

// Engine is the part of the session the web UI drives.
type Engine interface {
	Identity() (core.Identity, bool)
	Peers() []connmgr.Peer
	Friends() ([]store.Friend, error)
	PendingRequests() []store.PendingRequest
	Messages(limit int) ([]store.Message, error)
	SendBroadcast(text string) (store.Message, error)
	SendDirect(targetID, text string) (store.Message, error)
	RequestFriendship(endpoint string) error
	RespondToFriendshipRequest(persistentID string, accept bool) error
}

type Server struct {
	engine Engine
	port   int
	log    *slog.Logger
}

func NewServer(eng Engine, port int) *Server {
	return &Server{
		engine: eng,
		port:   port,
		log:    slog.Default().With("component", "web"),
	}
}

func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/peers", s.handlePeers)
	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/api/direct", s.handleDirect)
	mux.HandleFunc("/api/friends", s.handleFriends)
	mux.HandleFunc("/api/friends/request", s.handleFriendRequest)
	mux.HandleFunc("/api/requests", s.handleRequests)
	mux.HandleFunc("/api/requests/respond", s.handleRespond)
	mux.HandleFunc("/api/graph", s.handleGraph)
	return mux, nil
}

func (s *Server) Start(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	s.log.Info("Web server starting", "port", s.port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	tmpl, err := template.ParseFS(staticFiles, "static/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	id, _ := s.engine.Identity()
	tmpl.Execute(w, id)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, running := s.engine.Identity()
	connected := 0
	peers := s.engine.Peers()
	for _, p := range peers {
		if p.State == connmgr.Connected {
			connected++
		}
	}
	friends, _ := s.engine.Friends()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":   running,
		"id":        id.ID,
		"name":      id.DisplayName,
		"peers":     len(peers),
		"connected": connected,
		"friends":   len(friends),
		"pending":   len(s.engine.PendingRequests()),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := s.engine.Peers()
	if peers == nil {
		peers = []connmgr.Peer{}
	}
	writeJSON(w, http.StatusOK, peers)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.handlePostMessage(w, r)
		return
	}

	messages, err := s.engine.Messages(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html")
		for _, msg := range messages {
			colorClass := "text-green-500"
			if msg.Direction == store.Outgoing {
				colorClass = "text-cyan-400"
			}
			if msg.Kind == store.KindDirect {
				colorClass = "text-fuchsia-400"
			}
			sender := msg.SenderName
			if sender == "" {
				sender = msg.Endpoint
			}
			ts := time.Unix(msg.Timestamp, 0).Format("15:04:05")
			fmt.Fprintf(w, `<div class="mb-1 font-mono"><span class="text-gray-500">[%s]</span> <span class="font-bold %s">%s:</span> <span class="text-white">%s</span></div>`,
				ts, colorClass, html.EscapeString(sender), html.EscapeString(msg.Content))
		}
		return
	}

	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !decodeRequest(w, r, &req, func() { req.Content = r.FormValue("content") }) {
		return
	}
	if req.Content == "" {
		http.Error(w, "Content required", http.StatusBadRequest)
		return
	}

	msg, err := s.engine.SendBroadcast(req.Content)
	if err != nil {
		s.fail(w, err)
		return
	}
	if r.Header.Get("HX-Request") == "true" {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Target  string `json:"target"`
		Content string `json:"content"`
	}
	if !decodeRequest(w, r, &req, func() {
		req.Target = r.FormValue("target")
		req.Content = r.FormValue("content")
	}) {
		return
	}
	if req.Target == "" || req.Content == "" {
		http.Error(w, "Target and content required", http.StatusBadRequest)
		return
	}
	msg, err := s.engine.SendDirect(req.Target, req.Content)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	friends, err := s.engine.Friends()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if friends == nil {
		friends = []store.Friend{}
	}
	writeJSON(w, http.StatusOK, friends)
}

func (s *Server) handleFriendRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if !decodeRequest(w, r, &req, func() { req.Endpoint = r.FormValue("endpoint") }) {
		return
	}
	if err := s.engine.RequestFriendship(req.Endpoint); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requested"})
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	pending := s.engine.PendingRequests()
	if pending == nil {
		pending = []store.PendingRequest{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID     string `json:"id"`
		Accept bool   `json:"accept"`
	}
	if !decodeRequest(w, r, &req, func() {
		req.ID = r.FormValue("id")
		req.Accept = r.FormValue("accept") == "true"
	}) {
		return
	}
	if err := s.engine.RespondToFriendshipRequest(req.ID, req.Accept); err != nil {
		s.fail(w, err)
		return
	}
	status := "rejected"
	if req.Accept {
		status = "accepted"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	type Node struct {
		ID    string `json:"id"`
		Label string `json:"label"`
		Color string `json:"color"`
		Shape string `json:"shape"`
	}
	type Link struct {
		From string `json:"from"`
		To   string `json:"to"`
	}

	nodes := []Node{}
	links := []Link{}

	me, _ := s.engine.Identity()
	const self = "self"
	nodes = append(nodes, Node{ID: self, Label: "ME", Color: "#00FF00", Shape: "box"})

	friends := make(map[string]bool)
	if list, err := s.engine.Friends(); err == nil {
		for _, f := range list {
			friends[f.PersistentID] = true
		}
	}

	for _, p := range s.engine.Peers() {
		if p.PersistentID != "" && p.PersistentID == me.ID {
			continue
		}
		color := "#555555"
		switch {
		case p.State == connmgr.Connected && friends[p.PersistentID]:
			color = "#FF00FF"
		case p.State == connmgr.Connected:
			color = "#008800"
		case p.State == connmgr.Connecting:
			color = "#AAAA00"
		}
		nodes = append(nodes, Node{ID: p.EndpointID, Label: p.Label(), Color: color, Shape: "dot"})
		if p.State == connmgr.Connected {
			links = append(links, Link{From: self, To: p.EndpointID})
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": nodes,
		"links": links,
	})
}

// fail maps engine errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNotStarted):
		code = http.StatusServiceUnavailable
	case errors.Is(err, router.ErrNoPeers):
		code = http.StatusConflict
	case errors.Is(err, connmgr.ErrUnknownPeer), errors.Is(err, friendship.ErrUnknownRequest):
		code = http.StatusNotFound
	case errors.Is(err, friendship.ErrUnresolvedPeer), errors.Is(err, friendship.ErrAlreadyFriends),
		errors.Is(err, friendship.ErrSelf), errors.Is(err, engine.ErrEmptyMessage):
		code = http.StatusUnprocessableEntity
	}
	if code == http.StatusInternalServerError {
		s.log.Error("Request failed", "error", err)
	}
	http.Error(w, err.Error(), code)
}

// decodeRequest reads a JSON body, or falls back to form values.
func decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}, form func()) bool {
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return false
		}
		return true
	}
	form()
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
