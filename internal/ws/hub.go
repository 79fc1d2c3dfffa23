package ws

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/internal/playback"
	"github.com/jamstream/server/internal/registry"
	"github.com/jamstream/server/pkg/errors"
	"github.com/jamstream/server/pkg/logger"
)

// catalogTimeout host指令内目录补全的时间上限
const catalogTimeout = 3 * time.Second

// Rooms hub所需的注册表操作子集
type Rooms interface {
	GetRoom(roomID string) (*domain.Room, error)
	JoinRoom(roomID string, member domain.Member) (*domain.Room, *registry.LeaveResult, error)
	LeaveRoom(roomID, userID string) (*registry.LeaveResult, error)
}

// ChatLog 房间聊天记录
type ChatLog interface {
	Append(roomID string, sender domain.Member, text string) (*domain.ChatMessage, error)
	History(roomID string) []domain.ChatMessage
	Purge(roomID string)
}

// Commander 播放指令入口
type Commander interface {
	Play(ctx context.Context, issuer playback.Issuer, roomID, trackID string, positionMs int64) (*domain.Room, error)
	Pause(roomID string, issuer playback.Issuer, positionMs int64) (*domain.Room, error)
	Seek(roomID string, issuer playback.Issuer, positionMs int64) (*domain.Room, error)
	TrackChange(roomID string, issuer playback.Issuer, track *domain.Track) (*domain.Room, error)
}

// Sink 异步持久化入口
type Sink interface {
	SyncRoom(roomID string, name string, tags []string, isPublic *bool)
	CleanupRoom(roomID string)
}

type inboundEvent struct {
	conn  *Connection
	event *domain.ClientEvent
}

type outboundEvent struct {
	roomID string
	event  *domain.ServerEvent
	// drop为真表示房间终止，清理订阅与聊天记录
	drop bool
}

// HubStats hub统计信息
type HubStats struct {
	TotalRegistered    int64
	TotalUnregistered  int64
	CurrentConnections int64
}

// Hub jamming频道的连接管理器
// 所有房间绑定与订阅集合的变更收敛到Run的单一调度协程，
// 上行事件按到达顺序应用
type Hub struct {
	rooms     Rooms
	chat      ChatLog
	commander Commander
	sink      Sink
	limiter   *ConnectionLimiter
	logger    logger.Logger

	// 以下仅由调度协程访问
	connections map[string]*Connection
	subscribers map[string]map[*Connection]struct{}

	register   chan *Connection
	unregister chan *Connection
	inbound    chan inboundEvent
	outbound   chan outboundEvent

	stats HubStats
}

// NewHub 创建hub
// commander依赖hub做广播，构造后通过SetCommander注入
func NewHub(rooms Rooms, chat ChatLog, sink Sink, maxConnections int, log logger.Logger) *Hub {
	return &Hub{
		rooms:       rooms,
		chat:        chat,
		sink:        sink,
		limiter:     NewConnectionLimiter(maxConnections),
		logger:      log,
		connections: make(map[string]*Connection),
		subscribers: make(map[string]map[*Connection]struct{}),
		register:    make(chan *Connection, 256),
		unregister:  make(chan *Connection, 256),
		inbound:     make(chan inboundEvent, 1024),
		outbound:    make(chan outboundEvent, 1024),
	}
}

// SetCommander 注入播放指令入口
func (h *Hub) SetCommander(c Commander) {
	h.commander = c
}

// Limiter 返回连接限制器
func (h *Hub) Limiter() *ConnectionLimiter {
	return h.limiter
}

// Run 启动调度协程，阻塞直到ctx取消
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case conn := <-h.register:
			h.handleRegister(conn)
		case conn := <-h.unregister:
			h.handleUnregister(conn)
		case in := <-h.inbound:
			h.handleInbound(ctx, in)
		case out := <-h.outbound:
			if out.drop {
				h.dropRoom(out.roomID)
				continue
			}
			h.broadcastRoom(out.roomID, out.event)
		}
	}
}

// Register 注册新连接
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister 注销连接
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Dispatch 上行事件入队
func (h *Hub) Dispatch(conn *Connection, event *domain.ClientEvent) {
	select {
	case h.inbound <- inboundEvent{conn: conn, event: event}:
	case <-conn.closeChan:
	}
}

// Broadcast 房间广播入口，供播放控制器等外部调用方使用
func (h *Hub) Broadcast(roomID string, event *domain.ServerEvent) {
	select {
	case h.outbound <- outboundEvent{roomID: roomID, event: event}:
	default:
		h.logger.Warn("broadcast channel full, event dropped",
			logger.String("room_id", roomID),
			logger.String("type", string(event.Type)))
	}
}

// DropRoom 请求路径触发的房间终止
// 与之前的广播在同一队列中排队，room_ended先于清理送达
func (h *Hub) DropRoom(roomID string) {
	select {
	case h.outbound <- outboundEvent{roomID: roomID, drop: true}:
	default:
		h.logger.Warn("broadcast channel full, drop deferred",
			logger.String("room_id", roomID))
	}
}

// Stats 当前统计信息
func (h *Hub) Stats() HubStats {
	return HubStats{
		TotalRegistered:    atomic.LoadInt64(&h.stats.TotalRegistered),
		TotalUnregistered:  atomic.LoadInt64(&h.stats.TotalUnregistered),
		CurrentConnections: atomic.LoadInt64(&h.stats.CurrentConnections),
	}
}

func (h *Hub) handleRegister(conn *Connection) {
	h.connections[conn.ID] = conn
	atomic.AddInt64(&h.stats.TotalRegistered, 1)
	atomic.AddInt64(&h.stats.CurrentConnections, 1)

	h.logger.Info("connection registered",
		logger.String("conn_id", conn.ID),
		logger.String("user_id", conn.Member.UserID),
		logger.Int64("total", atomic.LoadInt64(&h.stats.CurrentConnections)))
}

func (h *Hub) handleUnregister(conn *Connection) {
	if _, exists := h.connections[conn.ID]; !exists {
		return
	}
	delete(h.connections, conn.ID)

	if conn.roomID != "" {
		h.leaveRoom(conn, conn.roomID)
	}

	h.limiter.Release()
	if conn.IsActive() {
		conn.Close("unregistered")
	}

	atomic.AddInt64(&h.stats.TotalUnregistered, 1)
	atomic.AddInt64(&h.stats.CurrentConnections, -1)

	h.logger.Info("connection unregistered",
		logger.String("conn_id", conn.ID),
		logger.String("user_id", conn.Member.UserID),
		logger.Int64("total", atomic.LoadInt64(&h.stats.CurrentConnections)))
}

// handleInbound 按事件类型路由
func (h *Hub) handleInbound(ctx context.Context, in inboundEvent) {
	conn, event := in.conn, in.event

	switch event.Type {
	case domain.EventJoinRoom:
		h.joinRoom(conn, event.RoomID)
	case domain.EventLeaveRoom:
		if conn.roomID != "" && conn.roomID == event.RoomID {
			h.leaveRoom(conn, conn.roomID)
		}
	case domain.EventSendChatMessage:
		h.sendChat(conn, event)
	case domain.EventTypingStart:
		h.typing(conn, event.RoomID, true)
	case domain.EventTypingStop:
		h.typing(conn, event.RoomID, false)
	case domain.EventHostPlay, domain.EventHostPause, domain.EventHostSeek, domain.EventHostTrackChange:
		h.hostCommand(ctx, conn, event)
	default:
		conn.sendError(domain.EventError, "unknown_type", "unsupported event type: "+string(event.Type))
	}
}

// joinRoom 绑定连接到房间
// 已绑定其他房间时先做隐式离开，重复绑定同一房间为空操作
func (h *Hub) joinRoom(conn *Connection, roomID string) {
	if roomID == "" {
		conn.sendError(domain.EventError, errors.ErrCodeValidationFailed, "room_id is required")
		return
	}
	if conn.roomID == roomID {
		return
	}
	if conn.roomID != "" {
		h.leaveRoom(conn, conn.roomID)
	}

	room, evicted, err := h.rooms.JoinRoom(roomID, conn.Member)
	if err != nil {
		h.sendErr(conn, domain.EventError, err)
		return
	}
	// 其他路径遗留的成员资格，入新房前清算
	if evicted != nil {
		h.finishLeave(evicted.Room.ID, conn.Member, evicted)
	}

	h.subscribe(conn, roomID)

	// 聊天历史只回放给新加入者
	conn.SendEvent(domain.NewServerEvent(domain.EventChatHistory, h.chat.History(roomID)))

	h.broadcastExcept(roomID, conn, domain.NewServerEvent(domain.EventUserJoined, conn.Member))
	h.sink.SyncRoom(roomID, "", nil, nil)
	h.broadcastRoom(roomID, domain.NewServerEvent(domain.EventRoomState, room))
}

// leaveRoom 解绑连接并应用注册表离开
func (h *Hub) leaveRoom(conn *Connection, roomID string) {
	h.unsubscribe(conn, roomID)

	// 最后一个订阅者离开时丢弃聊天记录
	if len(h.subscribers[roomID]) == 0 {
		delete(h.subscribers, roomID)
		h.chat.Purge(roomID)
	}

	res, err := h.rooms.LeaveRoom(roomID, conn.Member.UserID)
	if err != nil {
		return
	}
	h.finishLeave(roomID, conn.Member, res)
}

// finishLeave 离开后的广播与持久化
func (h *Hub) finishLeave(roomID string, member domain.Member, res *registry.LeaveResult) {
	if res == nil {
		return
	}
	if res.Ended {
		h.broadcastRoom(roomID, domain.NewServerEvent(domain.EventRoomEnded, nil))
		h.sink.CleanupRoom(roomID)
		h.dropRoom(roomID)
		return
	}
	h.broadcastRoom(roomID, domain.NewServerEvent(domain.EventUserLeft, member))
	h.broadcastRoom(roomID, domain.NewServerEvent(domain.EventRoomState, res.Room))
	h.sink.SyncRoom(roomID, "", nil, nil)
}

// dropRoom 房间结束：解绑全部订阅者并丢弃聊天记录
func (h *Hub) dropRoom(roomID string) {
	for conn := range h.subscribers[roomID] {
		conn.roomID = ""
	}
	delete(h.subscribers, roomID)
	h.chat.Purge(roomID)
}

// sendChat 发送聊天消息
func (h *Hub) sendChat(conn *Connection, event *domain.ClientEvent) {
	if conn.roomID == "" || conn.roomID != event.RoomID {
		h.sendErr(conn, domain.EventChatError, errors.ErrNotInRoom)
		return
	}

	msg, err := h.chat.Append(event.RoomID, conn.Member, event.Message)
	if err != nil {
		h.sendErr(conn, domain.EventChatError, err)
		return
	}
	h.broadcastRoom(event.RoomID, domain.NewServerEvent(domain.EventChatMessage, msg))
}

// typing 输入状态转发，不落任何存储
func (h *Hub) typing(conn *Connection, roomID string, isTyping bool) {
	if conn.roomID == "" || conn.roomID != roomID {
		return
	}
	h.broadcastExcept(roomID, conn, domain.NewServerEvent(domain.EventUserTyping, &domain.TypingPayload{
		UserID:      conn.Member.UserID,
		DisplayName: conn.Member.DisplayName,
		IsTyping:    isTyping,
	}))
}

// hostCommand 路由host传输指令
// 指令在调度协程内按到达顺序应用，后到指令严格覆盖先到的播放状态
func (h *Hub) hostCommand(ctx context.Context, conn *Connection, event *domain.ClientEvent) {
	if h.commander == nil {
		return
	}

	issuer := playback.Issuer{
		UserID:      conn.Member.UserID,
		ProviderID:  conn.Member.ProviderID,
		AccessToken: conn.AccessToken,
	}

	var err error
	switch event.Type {
	case domain.EventHostPlay:
		cctx, cancel := context.WithTimeout(ctx, catalogTimeout)
		_, err = h.commander.Play(cctx, issuer, event.RoomID, event.TrackID, event.PositionMs)
		cancel()
	case domain.EventHostPause:
		_, err = h.commander.Pause(event.RoomID, issuer, event.PositionMs)
	case domain.EventHostSeek:
		_, err = h.commander.Seek(event.RoomID, issuer, event.PositionMs)
	case domain.EventHostTrackChange:
		_, err = h.commander.TrackChange(event.RoomID, issuer, event.Track)
	}

	if err != nil {
		h.sendErr(conn, domain.EventError, err)
	}
}

func (h *Hub) subscribe(conn *Connection, roomID string) {
	set, ok := h.subscribers[roomID]
	if !ok {
		set = make(map[*Connection]struct{})
		h.subscribers[roomID] = set
	}
	set[conn] = struct{}{}
	conn.roomID = roomID
}

func (h *Hub) unsubscribe(conn *Connection, roomID string) {
	if set, ok := h.subscribers[roomID]; ok {
		delete(set, conn)
	}
	conn.roomID = ""
}

func (h *Hub) broadcastRoom(roomID string, event *domain.ServerEvent) {
	for conn := range h.subscribers[roomID] {
		conn.SendEvent(event)
	}
}

func (h *Hub) broadcastExcept(roomID string, except *Connection, event *domain.ServerEvent) {
	for conn := range h.subscribers[roomID] {
		if conn == except {
			continue
		}
		conn.SendEvent(event)
	}
}

// sendErr 将业务错误映射为下行错误事件
func (h *Hub) sendErr(conn *Connection, eventType domain.EventType, err error) {
	var appErr *errors.Error
	if stderrors.As(err, &appErr) {
		conn.sendError(eventType, appErr.Code, appErr.Message)
		return
	}
	conn.sendError(eventType, errors.ErrCodeInternal, "internal error")
}

func (h *Hub) shutdown() {
	h.logger.Info("realtime hub shutting down")
	for _, conn := range h.connections {
		conn.Close("server shutdown")
	}
	h.connections = make(map[string]*Connection)
	h.subscribers = make(map[string]map[*Connection]struct{})
}
