// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wsserver is the server-side WebSocket transport:
// it upgrades incoming HTTP requests, assigns each connection a
// ClientID, wires a fresh dispatch.Dispatcher[A] into the shared store,
// and bridges the dispatcher's pull-based output to the blocking
// gorilla/websocket connection without ever calling back into the
// dispatcher's own lock from inside one of its callbacks.
package wsserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/deltasync/dispatch"
	"github.com/AleutianAI/deltasync/ids"
	"github.com/AleutianAI/deltasync/pkg/logging"
	"github.com/AleutianAI/deltasync/store"
	"github.com/AleutianAI/deltasync/wire"
)

// upgrader allows any origin and carries generous read/write buffers
// for the occasional large Full update.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 1 << 20,
}

// Handler upgrades HTTP requests to WebSocket connections against one
// shared store.Store[A]. Construct one per model type and register its
// Handle method as a gin route.
type Handler[A any] struct {
	store      *store.Store[A]
	refAdder   store.ReferenceAdder[A]
	modelCodec wire.ModelCodec[A]
	deltaCodec wire.DeltaCodec[A]
	clock      dispatch.Clock
	metrics    dispatch.Metrics
	logger     *slog.Logger

	nextClientID atomic.Uint64
}

// NewHandler builds a Handler. logger may be nil (defaults to
// slog.Default()); clock is typically time.Now().UnixMilli.
func NewHandler[A any](
	s *store.Store[A],
	refAdder store.ReferenceAdder[A],
	modelCodec wire.ModelCodec[A],
	deltaCodec wire.DeltaCodec[A],
	clock dispatch.Clock,
	metrics dispatch.Metrics,
	logger *slog.Logger,
) *Handler[A] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler[A]{
		store:      s,
		refAdder:   refAdder,
		modelCodec: modelCodec,
		deltaCodec: deltaCodec,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
	}
}

// Handle upgrades one connection and drives it until the client
// disconnects. It satisfies gin.HandlerFunc.
func (h *Handler[A]) Handle(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	clientID := ids.ClientID(h.nextClientID.Add(1))
	connID := uuid.New().String()
	logger := h.logger.With(logging.ClientAttr(clientID), slog.String("connId", connID))
	logger.Info("client connected")

	disp := dispatch.New[A](clientID, h.refAdder, h.store, h.modelCodec, h.deltaCodec, h.clock, h.metrics, logger)
	h.store.Observe(disp)
	defer h.store.Unobserve(disp)

	stop := make(chan struct{})
	var stopOnce sync.Once
	closeStop := func() { stopOnce.Do(func() { close(stop) }) }

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writePump(c.Request.Context(), ws, disp, logger, stop)
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			logger.Info("client disconnected", slog.String("error", err.Error()))
			break
		}
		h.handleInbound(c.Request.Context(), disp, raw, logger)
	}

	disp.Abandon()
	closeStop()
	wg.Wait()
}

// writePump repeatedly pulls the next outbound message and writes it,
// one at a time, entirely from this single goroutine; Dispatcher.Pull's
// callback never does the blocking write itself, so it never holds the
// dispatcher's lock across network I/O.
func (h *Handler[A]) writePump(ctx context.Context, ws *websocket.Conn, disp *dispatch.Dispatcher[A], logger *slog.Logger, stop <-chan struct{}) {
	for {
		msgCh := make(chan []byte, 1)
		errCh := make(chan error, 1)
		disp.Pull(func(msg []byte, err error) {
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- msg
		})

		select {
		case msg := <-msgCh:
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Info("write failed, closing", slog.String("error", err.Error()))
				return
			}
		case err := <-errCh:
			logger.Error("failed to encode outbound update", slog.String("error", err.Error()))
			return
		case <-stop:
			return
		}
	}
}

func (h *Handler[A]) handleInbound(ctx context.Context, disp *dispatch.Dispatcher[A], raw []byte, logger *slog.Logger) {
	if wire.IsKeepalive(raw) {
		return
	}
	_, span := otel.Tracer("deltasync/transport").Start(ctx, "wsserver.applyCommit",
		trace.WithAttributes(attribute.Int64("clientId", int64(disp.ClientID()))))
	defer span.End()

	disp.MsgFromClient(raw)
	span.SetStatus(codes.Ok, "")
}
