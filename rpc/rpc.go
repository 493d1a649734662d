package rpc

import (
	"context"
	"net"
	"net/rpc"
	"time"

	"github.com/playonchain/arena/logger"
	"github.com/playonchain/arena/models"
	"github.com/playonchain/arena/services"
)

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
}

// NewServer creates a new RPC server.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  addr,
	}, nil
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if the error is due to the listener being closed.
			if _, ok := err.(*net.OpError); ok {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// ArenaService exposes game registry queries over net/rpc for
// internal tooling that does not speak HTTP.
type ArenaService struct {
	gameService *services.GameService
}

func NewArenaService(gs *services.GameService) *ArenaService {
	return &ArenaService{gameService: gs}
}

// Register binds the service into the default rpc namespace.
func (as *ArenaService) Register() error {
	return rpc.RegisterName("Arena", as)
}

type GetGameArgs struct {
	GameID string
}

type GetGameReply struct {
	Game *models.GameRecord
}

// GetGame follows the net/rpc signature: exported method, exported
// arguments, second argument is a pointer, return type is error.
func (as *ArenaService) GetGame(args *GetGameArgs, reply *GetGameReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	game, err := as.gameService.GetGame(ctx, args.GameID)
	if err != nil {
		return err
	}
	reply.Game = game
	return nil
}

type ListGamesArgs struct{}

type ListGamesReply struct {
	Games []models.GameRecord
}

func (as *ArenaService) ListGames(args *ListGamesArgs, reply *ListGamesReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	games, err := as.gameService.ListGames(ctx)
	if err != nil {
		return err
	}
	reply.Games = games
	return nil
}

type StatsArgs struct{}

type StatsReply struct {
	Stats *models.ArenaStats
}

func (as *ArenaService) Stats(args *StatsArgs, reply *StatsReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := as.gameService.Stats(ctx)
	if err != nil {
		return err
	}
	reply.Stats = stats
	return nil
}
