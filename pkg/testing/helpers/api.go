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

package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/olahol/melody"
	"github.com/stretchr/testify/require"
)

// WebSocketPath is the route test servers and clients agree on.
const WebSocketPath = "/api/v1"

// WebSocketTestServer is a bare melody endpoint for exercising clients
// without a storage service behind them.
type WebSocketTestServer struct {
	Server *httptest.Server
	Melody *melody.Melody
}

// NewWebSocketTestServer serves handler on WebSocketPath. It is closed when
// the test ends.
func NewWebSocketTestServer(t *testing.T, handler func(*melody.Session, []byte)) *WebSocketTestServer {
	t.Helper()

	m := melody.New()
	if handler != nil {
		m.HandleMessage(handler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, func(w http.ResponseWriter, r *http.Request) {
		_ = m.HandleRequest(w, r)
	})

	wsts := &WebSocketTestServer{
		Server: httptest.NewServer(mux),
		Melody: m,
	}
	t.Cleanup(wsts.Close)
	return wsts
}

// Addr returns the host:port of the server.
func (wsts *WebSocketTestServer) Addr() string {
	return wsts.Server.Listener.Addr().String()
}

func (wsts *WebSocketTestServer) Close() {
	_ = wsts.Melody.Close()
	wsts.Server.Close()
}

// DialWebSocket connects to the API route of an httptest server URL. The
// connection is closed when the test ends.
func DialWebSocket(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()

	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = WebSocketPath

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// JSONRPCResponse is a response as seen by a test client.
type JSONRPCResponse struct {
	Error   *models.ErrorObject `json:"error,omitempty"`
	JSONRPC string              `json:"jsonrpc"`
	ID      models.RPCID        `json:"id"`
	Result  json.RawMessage     `json:"result,omitempty"`
}

// SendJSONRPCRequest sends a request and reads messages until its response
// arrives, skipping notifications.
func SendJSONRPCRequest(
	conn *websocket.Conn,
	timeout time.Duration,
	method string,
	params any,
) (*JSONRPCResponse, error) {
	id := models.NewStringID(uuid.NewString())
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		var resp JSONRPCResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if resp.ID.Equal(id) {
			return &resp, nil
		}
	}
}

var errNoNotification = errors.New("no matching notification")

// ReadNotification reads messages until a notification with method arrives
// and returns its raw params.
func ReadNotification(conn *websocket.Conn, timeout time.Duration, method string) (json.RawMessage, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errNoNotification, err)
		}

		var notif struct {
			ID     *models.RPCID   `json:"id,omitempty"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &notif); err != nil {
			continue
		}
		if notif.ID.IsAbsent() && notif.Method == method {
			return notif.Params, nil
		}
	}
}
