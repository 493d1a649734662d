package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/playonchain/arena/broadcast"
	"github.com/playonchain/arena/broker"
	"github.com/playonchain/arena/config"
	"github.com/playonchain/arena/logger"
	"github.com/playonchain/arena/models"
	"github.com/playonchain/arena/monitor"
	"github.com/playonchain/arena/network"
	"github.com/playonchain/arena/oracle"
	"github.com/playonchain/arena/persistence"
	"github.com/playonchain/arena/reconciler"
	arena_rpc "github.com/playonchain/arena/rpc"
	"github.com/playonchain/arena/services"
	"github.com/playonchain/arena/session"
)

type GameServer struct {
	cfg            *config.Config
	engine         *gin.Engine
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	broadcaster    broadcast.Broadcaster
	gameService    *services.GameService
	store          persistence.Store
	outcomeBroker  *broker.OutcomeBroker
	reconciler     *reconciler.Reconciler
	monitor        *monitor.Monitor
	rpcServer      *arena_rpc.Server
	shutdownChan   chan struct{}
}

func NewGameServer(cfg *config.Config, store persistence.Store, chain oracle.Oracle) *GameServer {
	s := &GameServer{
		cfg:            cfg,
		sessionManager: session.NewManager(),
		gameService:    services.NewGameService(store, chain, cfg.Arena),
		store:          store,
		outcomeBroker:  broker.NewOutcomeBroker(store),
		monitor:        monitor.NewMonitor("arena"),
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}

	// 初始化广播器
	s.broadcaster = broadcast.NewGameBroadcaster(s.sessionManager)
	s.outcomeBroker.OnRaceLost(s.monitor.IncOutcomeRaces)

	// 对账器：名单变化推给订阅者
	s.reconciler = reconciler.NewReconciler(store, chain, cfg.Arena.ReconcileInterval,
		reconciler.WithRosterListener(s.onRosterChanged),
		reconciler.WithRunHook(s.monitor.IncReconcileRuns))

	// 初始化RPC服务器
	rpcServer, err := arena_rpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	s.rpcServer = rpcServer

	// 注册RPC服务
	arenaService := arena_rpc.NewArenaService(s.gameService)
	if err := arenaService.Register(); err != nil {
		logger.Log.Fatalf("Failed to register RPC service: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddress,
		Handler: s.engine,
	}

	return s
}

func (s *GameServer) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/games", s.handleListGames)
		api.POST("/games", s.handleCreateGame)
		api.GET("/games/:id", s.handleGetGame)
		api.DELETE("/games/:id", s.handleDeleteGame)
		api.PUT("/games/:id/players", s.handleSetPlayers)
		api.POST("/games/:id/join", s.handleJoin)
		api.POST("/games/:id/guess", s.handleGuess)
		api.GET("/games/:id/outcome", s.handleGetOutcome)
		api.POST("/games/:id/outcome", s.handleCreateOutcome)
		api.GET("/stats", s.handleStats)
	}
	s.engine.GET("/ws", s.handleWebSocket)
}

func (s *GameServer) Start() error {
	go s.rpcServer.Start()
	s.monitor.StartServer(s.cfg.Server.MonitorAddress)
	s.reconciler.Start()
	go s.gaugeLoop()

	logger.Log.Infof("Arena server listening on %s", s.cfg.Server.HTTPAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *GameServer) Shutdown() {
	close(s.shutdownChan)
	s.reconciler.Stop()
	s.rpcServer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Log.Warnf("HTTP shutdown: %v", err)
	}
}

// gaugeLoop 周期刷新活跃游戏数指标
func (s *GameServer) gaugeLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdownChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			stats, err := s.gameService.Stats(ctx)
			cancel()
			if err != nil {
				continue
			}
			s.monitor.SetActiveGames(stats.ActiveGames)
		}
	}
}

// onRosterChanged 对账发现名单变化后推送给该游戏的订阅者
func (s *GameServer) onRosterChanged(gameID string, players []string) {
	s.monitor.IncRosterDiffs()
	payload, err := json.Marshal(gin.H{"game_id": gameID, "players": players})
	if err != nil {
		return
	}
	s.broadcaster.BroadcastToGame(gameID, network.MsgTypeRosterSync, payload)
}

// ---- REST handlers ----

type createGameRequest struct {
	ID            string  `json:"id"`
	GameType      string  `json:"gameType" binding:"required"`
	GameMaster    string  `json:"gameMaster" binding:"required"`
	EntryCost     float64 `json:"entryCost"`
	TransactionID string  `json:"transactionId"`
	BlockHeight   string  `json:"blockHeight"`
}

type setPlayersRequest struct {
	Players []string `json:"players"`
}

type joinRequest struct {
	Participant string `json:"participant" binding:"required"`
	// Guess 可选：省略表示只报名不出手
	Guess *int `json:"guess"`
}

type guessRequest struct {
	Participant string `json:"participant" binding:"required"`
	Guess       int    `json:"guess" binding:"required"`
}

type outcomeRequest struct {
	Round int `json:"round" binding:"required"`
	// Value 可选：调用方自带的候选值参与首写竞争；缺省由服务端掷骰
	Value int `json:"value"`
}

func (s *GameServer) handleListGames(c *gin.Context) {
	games, err := s.gameService.ListGames(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}

func (s *GameServer) handleCreateGame(c *gin.Context) {
	var req createGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record := &models.GameRecord{
		ID:            req.ID,
		GameType:      req.GameType,
		GameMaster:    req.GameMaster,
		EntryCost:     req.EntryCost,
		TransactionID: req.TransactionID,
		BlockHeight:   req.BlockHeight,
	}
	if err := s.gameService.CreateGame(c.Request.Context(), record); err != nil {
		s.abortWithError(c, err)
		return
	}

	if payload, err := json.Marshal(record); err == nil {
		s.broadcaster.BroadcastToAll(network.MsgTypeGameCreated, payload)
	}
	c.JSON(http.StatusCreated, record)
}

func (s *GameServer) handleGetGame(c *gin.Context) {
	record, err := s.gameService.GetGame(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *GameServer) handleDeleteGame(c *gin.Context) {
	id := c.Param("id")
	if err := s.gameService.DeleteGame(c.Request.Context(), id); err != nil {
		s.abortWithError(c, err)
		return
	}

	if payload, err := json.Marshal(gin.H{"game_id": id}); err == nil {
		s.broadcaster.BroadcastToAll(network.MsgTypeGameRemoved, payload)
	}
	c.Status(http.StatusNoContent)
}

func (s *GameServer) handleSetPlayers(c *gin.Context) {
	var req setPlayersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := s.gameService.SetPlayers(c.Request.Context(), id, req.Players); err != nil {
		s.abortWithError(c, err)
		return
	}
	s.onRosterChanged(id, req.Players)
	c.JSON(http.StatusOK, gin.H{"game_id": id, "players": req.Players})
}

func (s *GameServer) handleJoin(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var guess int
	if req.Guess != nil {
		guess = *req.Guess
	}

	id := c.Param("id")
	start := time.Now()
	err := s.gameService.JoinGame(c.Request.Context(), id, req.Participant, guess)
	s.monitor.ObserveOracleLatency(time.Since(start))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"game_id": id, "participant": req.Participant})
}

func (s *GameServer) handleGuess(c *gin.Context) {
	var req guessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	start := time.Now()
	err := s.gameService.SubmitGuess(c.Request.Context(), id, req.Participant, req.Guess)
	s.monitor.ObserveOracleLatency(time.Since(start))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"game_id": id, "participant": req.Participant, "guess": req.Guess})
}

func (s *GameServer) handleGetOutcome(c *gin.Context) {
	round, err := strconv.Atoi(c.DefaultQuery("round", "1"))
	if err != nil || round < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid round"})
		return
	}

	id := c.Param("id")
	value, err := s.store.GetOutcome(c.Request.Context(), id, round)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"game_id": id, "round": round, "value": value})
}

// handleCreateOutcome 取或生成一局的共享点数。首写方得到 201，其余得到 200。
func (s *GameServer) handleCreateOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Round < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid round"})
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()

	if value, err := s.store.GetOutcome(ctx, id, req.Round); err == nil {
		c.JSON(http.StatusOK, gin.H{"game_id": id, "round": req.Round, "value": value, "shared": true})
		return
	}

	// 自带候选值时直接走存储层CAS，谁先写进去谁赢
	if req.Value != 0 {
		if !models.ValidGuess(req.Value) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "value outside dice range"})
			return
		}
		stored, first, err := s.store.CreateOutcomeIfAbsent(ctx, id, req.Round, req.Value)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		status := http.StatusOK
		if first {
			status = http.StatusCreated
			s.pushOutcome(id, req.Round, stored)
		} else {
			s.monitor.IncOutcomeRaces()
		}
		c.JSON(status, gin.H{"game_id": id, "round": req.Round, "value": stored, "shared": true})
		return
	}

	value, shared, err := s.outcomeBroker.GetOrCreateOutcome(ctx, id, req.Round)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	s.pushOutcome(id, req.Round, value)
	c.JSON(http.StatusCreated, gin.H{"game_id": id, "round": req.Round, "value": value, "shared": shared})
}

func (s *GameServer) pushOutcome(gameID string, round, value int) {
	if payload, err := json.Marshal(gin.H{"game_id": gameID, "round": round, "value": value}); err == nil {
		s.broadcaster.BroadcastToGame(gameID, network.MsgTypeOutcome, payload)
	}
}

func (s *GameServer) handleStats(c *gin.Context) {
	stats, err := s.gameService.Stats(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	s.monitor.SetActiveGames(stats.ActiveGames)
	c.JSON(http.StatusOK, stats)
}

func (s *GameServer) abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, persistence.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, persistence.ErrConflict),
		errors.Is(err, services.ErrAlreadyJoined),
		errors.Is(err, services.ErrNotJoined),
		errors.Is(err, services.ErrGameInactive),
		errors.Is(err, services.ErrJoinClosed),
		errors.Is(err, oracle.ErrGameClosed):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInvalidRecord),
		errors.Is(err, services.ErrInvalidGuess),
		errors.Is(err, services.ErrEmptyAddress):
		status = http.StatusBadRequest
	case errors.Is(err, oracle.ErrOracleUnavailable):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// ---- websocket ----

func (s *GameServer) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)
	s.monitor.IncOnlineSessions()

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		s.monitor.DecOnlineSessions()
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		sess.Touch()
	case network.MsgTypeAuth:
		s.handleAuth(sess, packet)
	case network.MsgTypeSubscribe:
		s.handleSubscribe(sess, packet)
	case network.MsgTypeUnsubscribe:
		s.handleUnsubscribe(sess, packet)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
}

func (s *GameServer) handleAuth(sess *session.Session, packet *network.Packet) {
	var req map[string]string
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		return
	}
	addr := req["address"]
	if addr == "" {
		s.sendError(sess, "address required")
		return
	}
	sess.SetAddress(addr)
	logger.Log.Infof("Session %s authenticated as %s", sess.GetID(), addr)

	resp, _ := json.Marshal(map[string]string{"address": addr})
	sess.Send(network.MsgTypeAuth, resp)
}

func (s *GameServer) handleSubscribe(sess *session.Session, packet *network.Packet) {
	var req map[string]string
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		return
	}
	gameID := req["game_id"]
	if gameID == "" {
		s.sendError(sess, "game_id required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	record, err := s.store.GetGame(ctx, gameID)
	cancel()
	if err != nil {
		s.sendError(sess, "game not found")
		return
	}

	sess.Subscribe(gameID)
	logger.Log.Infof("Session %s subscribed to game %s", sess.GetID(), gameID)

	// 订阅即回推当前名单，避免客户端等下一次对账
	payload, _ := json.Marshal(map[string]interface{}{"game_id": gameID, "players": record.Players})
	sess.Send(network.MsgTypeRosterSync, payload)
}

func (s *GameServer) handleUnsubscribe(sess *session.Session, packet *network.Packet) {
	var req map[string]string
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		return
	}
	if gameID := req["game_id"]; gameID != "" {
		sess.Unsubscribe(gameID)
	}
}

func (s *GameServer) sendError(sess *session.Session, msg string) {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	sess.Send(network.MsgTypeError, payload)
}
