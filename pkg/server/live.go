package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yetiwatch/yetiwatch/pkg/log"
	"github.com/yetiwatch/yetiwatch/pkg/types"
)

const (
	liveWriteWait = 10 * time.Second
	// livePongWait must be longer than livePingPeriod or healthy connections
	// get reaped between pings.
	livePongWait   = 60 * time.Second
	livePingPeriod = 54 * time.Second
	liveSendBuffer = 8
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleLive upgrades the request to a websocket and streams every new
// snapshot as a JSON message. The first message is the last known state when
// there is one.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response
		log.Ctx(ctx).WarnContext(ctx, "websocket upgrade failed", slog.Any("error", err))
		return
	}

	ch := make(chan types.DeviceSnapshot, liveSendBuffer)
	if rd, ok := s.ctrl.Read(); ok {
		ch <- rd.Snapshot
	}
	s.addLiveConn(ch)
	log.Ctx(ctx).DebugContext(ctx, "live stream connected", slog.String("remote", conn.RemoteAddr().String()))

	go s.liveWriter(conn, ch)

	// the read loop exists to notice the peer going away
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.removeLiveConn(ch)
	log.Ctx(ctx).DebugContext(ctx, "live stream disconnected", slog.String("remote", conn.RemoteAddr().String()))
}

func (s *Server) liveWriter(conn *websocket.Conn, ch <-chan types.DeviceSnapshot) {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case snap, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcastSnapshot fans a new snapshot out to all live connections. A slow
// consumer misses snapshots rather than stalling the pipeline.
func (s *Server) broadcastSnapshot(ctx context.Context, snap types.DeviceSnapshot) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	for ch := range s.liveConns {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Server) addLiveConn(ch chan types.DeviceSnapshot) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	s.liveConns[ch] = struct{}{}
}

func (s *Server) removeLiveConn(ch chan types.DeviceSnapshot) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if _, ok := s.liveConns[ch]; ok {
		delete(s.liveConns, ch)
		close(ch)
	}
}
