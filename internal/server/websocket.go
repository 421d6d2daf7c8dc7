package server

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"

	"flacstream/internal/library"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// 单次推送的数据块大小
const streamChunkSize = 64 * 1024

// WSMessage WebSocket 消息
type WSMessage struct {
	Action string  `json:"action"`
	Track  int     `json:"track"`
	TimeUs int64   `json:"timeUs"`
	Speed  float64 `json:"speed"`
}

// StreamSession 流会话
type StreamSession struct {
	ws       *websocket.Conn
	lib      *library.Library
	stopChan chan struct{}
	mu       sync.Mutex
	running  bool
	writeMu  sync.Mutex
}

// HandleWebSocket WebSocket 处理器
func (h *Handlers) HandleWebSocket(ctx iris.Context) {
	ws, err := upgrader.Upgrade(ctx.ResponseWriter(), ctx.Request(), nil)
	if err != nil {
		fmt.Printf("[WS] Upgrade error: %v\n", err)
		return
	}
	defer ws.Close()

	session := &StreamSession{
		ws:       ws,
		lib:      h.Library(),
		stopChan: make(chan struct{}),
	}

	sessionID := fmt.Sprintf("%p", ws)
	fmt.Printf("[WS] 新连接: %s\n", sessionID)

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[WS] Error: %v\n", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			session.sendJSON(map[string]interface{}{"error": "无效的 JSON"})
			continue
		}

		switch msg.Action {
		case "play", "seek":
			session.stop()
			if msg.Speed == 0 {
				msg.Speed = 1.0
			}
			go session.streamTrack(msg.Track, msg.TimeUs, msg.Speed)
			fmt.Printf("[WS] %s: track=%d, t=%dus, speed=%.1f\n",
				msg.Action, msg.Track, msg.TimeUs, msg.Speed)

		case "pause":
			session.stop()
			fmt.Printf("[WS] 暂停\n")

		case "speed":
			fmt.Printf("[WS] 速度变更: %.1fx\n", msg.Speed)
		}
	}

	session.stop()
	fmt.Printf("[WS] 断开连接: %s\n", sessionID)
}

func (s *StreamSession) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopChan)
		s.stopChan = make(chan struct{})
		s.running = false
	}
}

func (s *StreamSession) sendJSON(v interface{}) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.ws.WriteJSON(v)
}

func (s *StreamSession) sendBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteMessage(websocket.BinaryMessage, data)
}

// streamTrack 从目标时间开始推送音频数据
// seek 解析一次，之后按字节顺序推流；节拍按平均码率换算
func (s *StreamSession) streamTrack(trackID int, startUs int64, speed float64) {
	s.mu.Lock()
	s.running = true
	stop := s.stopChan
	s.mu.Unlock()

	track, ok := s.lib.Track(trackID)
	if !ok {
		s.sendJSON(map[string]interface{}{"error": "曲目不存在"})
		return
	}

	point, err := track.SeekTo(startUs)
	if err != nil {
		s.sendJSON(map[string]interface{}{"error": "seek 失败: " + err.Error()})
		return
	}

	total := track.FrameDataBytes()
	durationUs := track.SeekMap.DurationUs()

	s.sendJSON(map[string]interface{}{
		"event":      "seeked",
		"timeUs":     point.TimeUs,
		"offset":     point.Offset,
		"durationUs": durationUs,
		"sampleRate": track.Meta.Info.SampleRate,
	})

	// 平均每字节的播放时长 (微秒)，推流节拍用
	var usPerByte float64
	if durationUs > 0 && total > 0 {
		usPerByte = float64(durationUs) / float64(total)
	}

	pos := point.Offset
	for {
		select {
		case <-stop:
			return
		default:
		}

		if total >= 0 && pos >= total {
			s.sendJSON(map[string]interface{}{"event": "ended"})
			break
		}

		n := streamChunkSize
		if total >= 0 && int64(n) > total-pos {
			n = int(total - pos)
		}

		data, err := track.ReadFrameData(pos, n)
		if err != nil {
			s.sendJSON(map[string]interface{}{"error": "读取失败: " + err.Error()})
			break
		}
		if len(data) == 0 {
			s.sendJSON(map[string]interface{}{"event": "ended"})
			break
		}

		// 块头: 区内偏移(8) + 估算时间(8)
		estUs := point.TimeUs + int64(float64(pos-point.Offset)*usPerByte)
		chunk := make([]byte, 16+len(data))
		binary.LittleEndian.PutUint64(chunk[0:8], uint64(pos))
		binary.LittleEndian.PutUint64(chunk[8:16], uint64(estUs))
		copy(chunk[16:], data)

		if err := s.sendBinary(chunk); err != nil {
			break
		}

		pos += int64(len(data))

		if total > 0 {
			progress := float64(pos) / float64(total)
			s.sendJSON(map[string]interface{}{"event": "progress", "position": progress})
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
