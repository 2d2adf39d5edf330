// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport_test

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/deltasync/clientsync"
	"github.com/AleutianAI/deltasync/delta"
	"github.com/AleutianAI/deltasync/demo"
	"github.com/AleutianAI/deltasync/dispatch"
	"github.com/AleutianAI/deltasync/store"
	"github.com/AleutianAI/deltasync/transport/wsclient"
	"github.com/AleutianAI/deltasync/transport/wsserver"
	"github.com/AleutianAI/deltasync/wire"
)

func startServer(t *testing.T) (wsURL string, s *store.Store[demo.Address]) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s = store.New[demo.Address](demo.Address{Name: "unnamed", Number: 0}, store.NoopReferenceAdder[demo.Address], demo.HashModelID, store.Metrics{})
	handler := wsserver.NewHandler[demo.Address](s, store.NoopReferenceAdder[demo.Address], wire.JSONModelCodec[demo.Address]{}, demo.DeltaCodec{}, func() int64 { return 0 }, dispatch.Metrics{}, nil)

	router := gin.New()
	router.GET("/ws", handler.Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return wsURL, s
}

func dialClient(t *testing.T, url string) (*wsclient.Client[demo.Address], *stateRecorder) {
	t.Helper()
	rec := &stateRecorder{}
	c, err := wsclient.Dial(wsclient.Config[demo.Address]{
		URL:        url,
		ModelCodec: wire.JSONModelCodec[demo.Address]{},
		DeltaCodec: demo.DeltaCodec{},
		RefAdder:   store.NoopReferenceAdder[demo.Address],
		Hash:       demo.HashModelID,
		OnUpdate:   rec.record,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, rec
}

type stateRecorder struct {
	mu    sync.Mutex
	state clientsync.State[demo.Address]
}

func (r *stateRecorder) record(s clientsync.State[demo.Address]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

func (r *stateRecorder) model() demo.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Model
}

func TestClientReceivesInitialFull(t *testing.T) {
	url, _ := startServer(t)
	c, _ := dialClient(t, url)
	assert.Equal(t, demo.Address{Name: "unnamed", Number: 0}, c.State().Model)
}

func TestLocalMutationPropagatesToOtherClient(t *testing.T) {
	url, _ := startServer(t)
	c1, _ := dialClient(t, url)
	_, rec2 := dialClient(t, url)

	_, err := c1.Apply(demo.SetName{Value: "ada"}, delta.Context{Moment: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rec2.model().Name == "ada"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestApplyReflectsOptimisticModelImmediately(t *testing.T) {
	url, _ := startServer(t)
	c, _ := dialClient(t, url)

	state, err := c.Apply(demo.SetNumber{Value: 42}, delta.Context{Moment: 1})
	require.NoError(t, err)
	assert.Equal(t, 42, state.Model.Number)
}
