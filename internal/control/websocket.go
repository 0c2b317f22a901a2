// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package control

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message is the CBOR document pushed to websocket clients
type Message struct {
	State map[string]float64 `cbor:"state"`
	Error string             `cbor:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// serveWS accepts CBOR map[string]float64 updates and pushes a Message
// after every update and on each push interval
func (s *Server) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	logger.Info("websocket client connected")

	// Reader goroutine forwards results; this goroutine is the only writer
	results := make(chan string, 8)
	readerDone := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(readerDone)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.BinaryMessage {
				continue
			}

			var updates map[string]float64
			var errText string
			if err := cbor.Unmarshal(data, &updates); err != nil {
				errText = "decode: " + err.Error()
			} else if err := s.state.SetMany(updates); err != nil {
				errText = err.Error()
			} else {
				logger.Debug("websocket update", zap.Any("fields", updates))
			}

			select {
			case results <- errText:
			case <-stop:
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()

	if !s.push(conn, "") {
		return
	}
	for {
		select {
		case <-readerDone:
			logger.Info("websocket client disconnected")
			return
		case errText := <-results:
			if !s.push(conn, errText) {
				return
			}
		case <-ticker.C:
			if !s.push(conn, "") {
				return
			}
		}
	}
}

func (s *Server) push(conn *websocket.Conn, errText string) bool {
	data, err := cbor.Marshal(Message{State: s.state.Map(), Error: errText})
	if err != nil {
		s.logger.Error("encode websocket message", zap.Error(err))
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.logger.Debug("websocket write failed", zap.Error(err))
		return false
	}
	return true
}
