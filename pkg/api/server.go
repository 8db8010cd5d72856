// Zaparoo USB Storage
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo USB Storage.
//
// Zaparoo USB Storage is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo USB Storage is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo USB Storage.  If not, see <http://www.gnu.org/licenses/>.

// Package api exposes the storage service as JSON-RPC 2.0 over WebSocket.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/methods"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/middleware"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/models/requests"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/notifications"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/validation"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/config"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/errs"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/events"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
)

const (
	APIPath = "/api/v1"
	// MaxMessageSize bounds a single request, which carries whole files.
	MaxMessageSize     = 32 << 20
	notificationBuffer = 32
	shutdownTimeout    = 5 * time.Second
	// TagInvalidParams is the error tag of requests rejected before they
	// reach the storage service.
	TagInvalidParams = "InvalidParams"
)

var (
	JSONRPCErrorParseError = models.ErrorObject{
		Code:    -32700,
		Message: "Parse error",
	}
	JSONRPCErrorInvalidRequest = models.ErrorObject{
		Code:    -32600,
		Message: "Invalid Request",
	}
	JSONRPCErrorMethodNotFound = models.ErrorObject{
		Code:    -32601,
		Message: "Method not found",
	}
	JSONRPCErrorRateLimited = models.ErrorObject{
		Code:    -32000,
		Message: "Rate limit exceeded",
	}
)

const (
	codeInvalidParams = -32602
	codeInternalError = -32603
	codeServerError   = -32000
)

var methodMap = map[string]func(requests.RequestEnv) (any, error){
	models.MethodAvailableDevices:  methods.HandleAvailableDevices,
	models.MethodRequestPermission: methods.HandleRequestPermission,
	models.MethodWrite:             methods.HandleWrite,
	models.MethodRead:              methods.HandleRead,
	models.MethodDelete:            methods.HandleDelete,
	models.MethodUnmount:           methods.HandleUnmount,
	models.MethodVersion:           methods.HandleVersion,
}

// Server routes JSON-RPC requests from WebSocket sessions to the storage
// service and broadcasts its device events.
type Server struct {
	svc            *storage.Service
	ws             *melody.Melody
	filter         *middleware.IPFilter
	limiter        *middleware.IPRateLimiter
	evs            <-chan events.Event
	methods        map[string]func(requests.RequestEnv) (any, error)
	allowedOrigins []string
	subID          int
	wg             sync.WaitGroup
}

type Options struct {
	Clock          clockwork.Clock
	AllowedIPs     []string
	AllowedOrigins []string
}

func NewServer(svc *storage.Service, opts Options) *Server {
	s := &Server{
		svc:            svc,
		ws:             melody.New(),
		filter:         middleware.NewIPFilter(opts.AllowedIPs),
		limiter:        middleware.NewIPRateLimiter(opts.Clock),
		methods:        methodMap,
		allowedOrigins: opts.AllowedOrigins,
	}
	s.evs, s.subID, _ = svc.Subscribe(notificationBuffer)

	s.ws.Config.MaxMessageSize = MaxMessageSize
	s.ws.Upgrader.CheckOrigin = s.checkOrigin
	s.ws.HandleMessage(middleware.WebSocketRateLimitHandler(s.limiter, s.handleWSMessage, s.sendRateLimited))
	s.ws.HandleConnect(func(session *melody.Session) {
		log.Debug().Str("addr", session.Request.RemoteAddr).Msg("api client connected")
	})
	s.ws.HandleDisconnect(func(session *melody.Session) {
		log.Debug().Str("addr", session.Request.RemoteAddr).Msg("api client disconnected")
	})
	s.ws.HandleError(func(session *melody.Session, err error) {
		log.Debug().Err(err).Str("addr", session.Request.RemoteAddr).Msg("websocket error")
	})

	return s
}

// Handler returns the HTTP routes of the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.HTTPIPFilterMiddleware(s.filter))
	r.Use(middleware.HTTPRateLimitMiddleware(s.limiter))
	r.Use(chimiddleware.NoCache)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return s.originAllowed(origin)
		},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept"},
	}))

	handleWS := func(w http.ResponseWriter, r *http.Request) {
		err := s.ws.HandleRequest(w, r)
		if err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	}
	r.Get("/api", handleWS)
	r.Get(APIPath, handleWS)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

// ServeNotifications broadcasts storage events published since the server
// was created to every connected session until ctx is cancelled.
func (s *Server) ServeNotifications(ctx context.Context) {
	ns := make(chan models.Notification, notificationBuffer)

	go func() {
		notifications.Forward(ns, s.evs)
		close(ns)
	}()
	go func() {
		<-ctx.Done()
		s.svc.Unsubscribe(s.subID)
	}()

	for notif := range ns {
		data, err := json.Marshal(models.NotificationObject{
			JSONRPC: "2.0",
			Method:  notif.Method,
			Params:  notif.Params,
		})
		if err != nil {
			log.Error().Err(err).Msg("marshalling notification")
			continue
		}
		if err := s.ws.Broadcast(data); err != nil {
			log.Error().Err(err).Msg("broadcasting notification")
		}
	}
}

// Close disconnects every session and waits for running requests.
func (s *Server) Close() {
	s.svc.Unsubscribe(s.subID)
	if err := s.ws.Close(); err != nil {
		log.Debug().Err(err).Msg("closing websocket sessions")
	}
	s.wg.Wait()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.originAllowed(origin)
}

// originAllowed admits pages served from the local machine and the
// configured origins.
func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) handleWSMessage(session *melody.Session, msg []byte) {
	// heartbeat
	if bytes.Equal(msg, []byte("ping")) {
		if err := session.Write([]byte("pong")); err != nil {
			log.Error().Err(err).Msg("sending pong")
		}
		return
	}

	if !json.Valid(msg) {
		log.Warn().Msg("request is not valid json")
		sendError(session, models.NullRPCID, JSONRPCErrorParseError)
		return
	}

	var req models.RequestObject
	if err := json.Unmarshal(msg, &req); err != nil {
		log.Warn().Err(err).Msg("failed to decode request")
		sendError(session, models.NullRPCID, JSONRPCErrorInvalidRequest)
		return
	}

	id := models.NullRPCID
	if !req.ID.IsAbsent() {
		id = *req.ID
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		log.Warn().Str("jsonrpc", req.JSONRPC).Str("method", req.Method).Msg("invalid request")
		sendError(session, id, JSONRPCErrorInvalidRequest)
		return
	}

	if req.ID.IsAbsent() {
		log.Debug().Str("method", req.Method).Msg("received notification, ignoring")
		return
	}

	fn, ok := s.methods[strings.ToLower(req.Method)]
	if !ok {
		log.Warn().Str("method", req.Method).Msg("unknown method")
		sendError(session, id, JSONRPCErrorMethodNotFound)
		return
	}

	// Permission prompts can take minutes, requests run off the read loop
	// so the session keeps answering pings.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runMethod(session, id, req, fn)
	}()
}

func (s *Server) runMethod(
	session *melody.Session,
	id models.RPCID,
	req models.RequestObject,
	fn func(requests.RequestEnv) (any, error),
) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("method", req.Method).Msgf("panic in method handler: %v", r)
			sendError(session, id, ErrorObject(fmt.Errorf("method %s panicked: %v", req.Method, r)))
		}
	}()

	log.Debug().Str("method", req.Method).Str("id", id.String()).Msg("received request")

	ctx := session.Request.Context()
	addr, _ := middleware.ParseRemoteIP(session.Request.RemoteAddr)

	resp, err := fn(requests.RequestEnv{
		Context: ctx,
		Storage: s.svc,
		Params:  req.Params,
		ID:      id,
		IsLocal: addr.IsLoopback(),
	})
	if err != nil {
		errObj := ErrorObject(err)
		log.Info().Err(err).Str("method", req.Method).Str("tag", errObj.Data.Tag).Msg("request failed")
		sendError(session, id, errObj)
		return
	}

	sendResponse(session, id, resp)
}

func (s *Server) sendRateLimited(session *melody.Session) {
	sendError(session, models.NullRPCID, JSONRPCErrorRateLimited)
}

// ErrorObject converts a handler error to its JSON-RPC error. The data tag
// names the storage error kind.
func ErrorObject(err error) models.ErrorObject {
	var ve *validation.Error
	if errors.As(err, &ve) ||
		errors.Is(err, validation.ErrMissingParams) ||
		errors.Is(err, validation.ErrInvalidParams) {
		return models.ErrorObject{
			Code:    codeInvalidParams,
			Message: err.Error(),
			Data:    &models.ErrorData{Tag: TagInvalidParams},
		}
	}

	tag := errs.Tag(err)
	code := codeServerError
	if tag == errs.TagInternal {
		code = codeInternalError
	}
	return models.ErrorObject{
		Code:    code,
		Message: err.Error(),
		Data:    &models.ErrorData{Tag: tag},
	}
}

func sendResponse(session *melody.Session, id models.RPCID, result any) {
	data, err := json.Marshal(models.ResponseObject{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
	if err != nil {
		log.Error().Err(err).Msg("marshalling response")
		sendError(session, id, models.ErrorObject{Code: codeInternalError, Message: "Internal error"})
		return
	}
	if err := session.Write(data); err != nil {
		log.Warn().Err(err).Msg("sending response")
	}
}

//nolint:gocritic // error object copied into response
func sendError(session *melody.Session, id models.RPCID, errObj models.ErrorObject) {
	data, err := json.Marshal(models.ResponseErrorObject{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &errObj,
	})
	if err != nil {
		log.Error().Err(err).Msg("marshalling error response")
		return
	}
	if err := session.Write(data); err != nil {
		log.Warn().Err(err).Msg("sending error response")
	}
}

// Start serves the API on the configured address until ctx is cancelled.
func Start(ctx context.Context, cfg *config.Instance, svc *storage.Service) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := NewServer(svc, Options{
		AllowedIPs:     cfg.AllowedIPs(),
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	listener, err := net.Listen("tcp", cfg.APIListen())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.APIListen(), err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.limiter.StartCleanup(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.ServeNotifications(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("api server listening")
		serveErr <- srv.Serve(listener)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("api server failed: %w", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api server shutdown")
	}
	s.Close()
	<-done

	return runErr
}
