package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"cloudsync/internal/daemon"
	"cloudsync/internal/logging"
)

const defaultHistoryLimit = 20

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, ctrl *daemon.Controller, logger *slog.Logger) (*Server, error) {
	if ctrl == nil {
		return nil, errors.New("ipc server requires daemon controller")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{ctrl: ctrl, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			if !s.track(conn) {
				_ = conn.Close()
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.untrack(c)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// Close stops the server, drops open client connections and removes the
// socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may confuse later starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun cloudsync stop"))
	}
}

type service struct {
	ctrl   *daemon.Controller
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.ctrl.Status()
	resp.Running = true
	resp.PID = status.PID
	resp.StartedAt = status.StartedAt
	resp.TasksFile = status.TasksFile
	resp.LockPath = status.LockPath
	resp.HistoryPath = status.HistoryPath
	resp.Tasks = status.Tasks
	return nil
}

func (s *service) Reload(_ ReloadRequest, resp *ReloadResponse) error {
	s.logger.Debug("reload requested")
	err := s.ctrl.Reload(s.ctx)
	resp.Tasks = len(s.ctrl.Status().Tasks)
	if err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Reloaded = true
	resp.Message = "tasks reloaded"
	s.logger.Info("tasks reloaded via IPC",
		logging.String(logging.FieldEventType, "ipc_reload"),
		logging.Int("tasks", resp.Tasks))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Info("daemon stop requested via IPC", logging.String(logging.FieldEventType, "ipc_stop"))
	s.ctrl.RequestShutdown()
	resp.Stopped = true
	resp.PID = os.Getpid()
	return nil
}

func (s *service) Sync(req SyncRequest, resp *SyncResponse) error {
	name := strings.TrimSpace(req.Task)
	if name == "" {
		return errors.New("task name is required")
	}
	if err := s.ctrl.TriggerSync(name); err != nil {
		return err
	}
	resp.Queued = true
	s.logger.Info("manual sync requested",
		logging.String(logging.FieldEventType, "ipc_sync"),
		logging.String(logging.FieldTask, name))
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	runs, err := s.ctrl.History(s.ctx, strings.TrimSpace(req.Task), limit)
	if err != nil {
		return err
	}
	resp.Runs = make([]Run, 0, len(runs))
	for _, run := range runs {
		resp.Runs = append(resp.Runs, FromHistory(run))
	}
	return nil
}
