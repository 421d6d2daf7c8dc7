package handlers

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/kataras/iris/v12/websocket"
	"github.com/kataras/neffos"

	"flacstream/internal/library"
)

// StreamSession WebSocket 流会话
type StreamSession struct {
	track    *library.Track
	position int64 // 帧数据区内偏移
	baseUs   int64 // position 对应的估算时间
	playing  bool
	speed    float64
	mu       sync.Mutex
}

// WebSocketHandler WebSocket 处理器
type WebSocketHandler struct {
	Lib      func() *library.Library
	sessions map[*neffos.Conn]*StreamSession
	mu       sync.RWMutex
}

// 单次推送的数据块大小
const chunkSize = 64 * 1024

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(lib func() *library.Library) *WebSocketHandler {
	return &WebSocketHandler{
		Lib:      lib,
		sessions: make(map[*neffos.Conn]*StreamSession),
	}
}

// OnConnect 连接建立
func (ws *WebSocketHandler) OnConnect(c *neffos.NSConn, msg neffos.Message) error {
	fmt.Printf("[WS] 客户端连接: %s\n", c.Conn.ID())
	return nil
}

// OnDisconnect 连接断开
func (ws *WebSocketHandler) OnDisconnect(c *neffos.NSConn, msg neffos.Message) error {
	fmt.Printf("[WS] 客户端断开: %s\n", c.Conn.ID())
	ws.mu.Lock()
	delete(ws.sessions, c.Conn)
	ws.mu.Unlock()
	return nil
}

// OnOpen 打开曲目
func (ws *WebSocketHandler) OnOpen(c *neffos.NSConn, msg neffos.Message) error {
	var req struct {
		Track int `json:"track"`
	}
	if err := msg.Unmarshal(&req); err != nil {
		return err
	}

	track, ok := ws.Lib().Track(req.Track)
	if !ok {
		c.Emit("error", []byte(`{"error": "track not found"}`))
		return nil
	}

	session := &StreamSession{
		track:   track,
		playing: false,
		speed:   1.0,
	}

	ws.mu.Lock()
	ws.sessions[c.Conn] = session
	ws.mu.Unlock()

	c.Emit("opened", []byte(fmt.Sprintf(
		`{"durationUs": %d, "seekable": %t, "mode": %q}`,
		track.SeekMap.DurationUs(), track.SeekMap.IsSeekable(), track.SeekMap.Mode())))

	return nil
}

// OnPlay 开始播放
func (ws *WebSocketHandler) OnPlay(c *neffos.NSConn, msg neffos.Message) error {
	ws.mu.RLock()
	session := ws.sessions[c.Conn]
	ws.mu.RUnlock()

	if session == nil {
		return nil
	}

	session.mu.Lock()
	session.playing = true
	session.mu.Unlock()

	go ws.streamChunks(c, session)
	return nil
}

// OnPause 暂停播放
func (ws *WebSocketHandler) OnPause(c *neffos.NSConn, msg neffos.Message) error {
	ws.mu.RLock()
	session := ws.sessions[c.Conn]
	ws.mu.RUnlock()

	if session != nil {
		session.mu.Lock()
		session.playing = false
		session.mu.Unlock()
	}
	return nil
}

// OnSeek 跳转到目标时间
func (ws *WebSocketHandler) OnSeek(c *neffos.NSConn, msg neffos.Message) error {
	var req struct {
		TimeUs int64 `json:"timeUs"`
	}
	if err := msg.Unmarshal(&req); err != nil {
		return err
	}

	ws.mu.RLock()
	session := ws.sessions[c.Conn]
	ws.mu.RUnlock()

	if session == nil {
		return nil
	}

	point, err := session.track.SeekTo(req.TimeUs)
	if err != nil {
		c.Emit("error", []byte(fmt.Sprintf(`{"error": %q}`, err.Error())))
		return nil
	}

	session.mu.Lock()
	session.position = point.Offset
	session.baseUs = point.TimeUs
	session.mu.Unlock()

	c.Emit("seeked", []byte(fmt.Sprintf(
		`{"timeUs": %d, "offset": %d}`, point.TimeUs, point.Offset)))
	return nil
}

// OnSpeed 设置速度
func (ws *WebSocketHandler) OnSpeed(c *neffos.NSConn, msg neffos.Message) error {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := msg.Unmarshal(&req); err != nil {
		return err
	}

	ws.mu.RLock()
	session := ws.sessions[c.Conn]
	ws.mu.RUnlock()

	if session != nil {
		session.mu.Lock()
		session.speed = req.Speed
		session.mu.Unlock()
	}
	return nil
}

// streamChunks 流式发送音频数据块
func (ws *WebSocketHandler) streamChunks(c *neffos.NSConn, session *StreamSession) {
	track := session.track
	total := track.FrameDataBytes()
	durationUs := track.SeekMap.DurationUs()

	var usPerByte float64
	if durationUs > 0 && total > 0 {
		usPerByte = float64(durationUs) / float64(total)
	}

	for {
		session.mu.Lock()
		if !session.playing {
			session.mu.Unlock()
			break
		}

		if total >= 0 && session.position >= total {
			session.playing = false
			session.mu.Unlock()
			c.Emit("ended", nil)
			break
		}

		pos := session.position
		baseUs := session.baseUs
		speed := session.speed

		n := chunkSize
		if total >= 0 && int64(n) > total-pos {
			n = int(total - pos)
		}
		session.mu.Unlock()

		data, err := track.ReadFrameData(pos, n)
		if err != nil || len(data) == 0 {
			c.Emit("ended", nil)
			break
		}

		// 块头: 区内偏移(8) + 估算时间(8)
		estUs := baseUs
		chunk := make([]byte, 16+len(data))
		binary.LittleEndian.PutUint64(chunk[0:8], uint64(pos))
		binary.LittleEndian.PutUint64(chunk[8:16], uint64(estUs))
		copy(chunk[16:], data)

		c.EmitBinary("chunk", chunk)

		session.mu.Lock()
		session.position = pos + int64(len(data))
		session.baseUs = baseUs + int64(float64(len(data))*usPerByte)
		session.mu.Unlock()

		if total > 0 {
			progress := float64(pos+int64(len(data))) / float64(total)
			c.Emit("progress", []byte(fmt.Sprintf(`{"position": %.4f}`, progress)))
		}

		sleepDuration := time.Duration(float64(len(data))*usPerByte/speed) * time.Microsecond
		if sleepDuration > time.Second {
			sleepDuration = time.Second
		}
		if sleepDuration > 0 {
			time.Sleep(sleepDuration)
		}
	}
}

// RegisterEvents 注册 WebSocket 事件
func (ws *WebSocketHandler) RegisterEvents() websocket.Namespaces {
	return websocket.Namespaces{
		"stream": websocket.Events{
			websocket.OnNamespaceConnected:  ws.OnConnect,
			websocket.OnNamespaceDisconnect: ws.OnDisconnect,
			"open":  ws.OnOpen,
			"play":  ws.OnPlay,
			"pause": ws.OnPause,
			"seek":  ws.OnSeek,
			"speed": ws.OnSpeed,
		},
	}
}
