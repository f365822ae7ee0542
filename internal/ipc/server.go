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
	"path/filepath"
	"sync"
	"time"

	"transcoder/internal/daemon"
	"transcoder/internal/logging"
	"transcoder/internal/scheduler"
	"transcoder/internal/services"
	"transcoder/internal/workflow"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path. shutdown is
// invoked once when a client requests the daemon exit; it may be nil.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger, shutdown func()) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	svc := &service{daemon: d, logger: logger, ctx: serverCtx, shutdown: shutdown}
	if err := rpcServer.RegisterName(ServiceName, svc); err != nil {
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
	}, nil
}

// Serve starts accepting RPC connections until the server is closed.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Blocked Wait calls are
// released by canceling the server context.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon   *daemon.Daemon
	logger   *slog.Logger
	ctx      context.Context
	shutdown func()
	once     sync.Once
}

func (s *service) requestContext(requestID string) (context.Context, *slog.Logger) {
	ctx := s.ctx
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx, logging.WithContext(ctx, s.logger)
}

func (s *service) Submit(req SubmitRequest, resp *JobResponse) error {
	ctx, logger := s.requestContext(req.RequestID)
	logger.Debug("submit requested", logging.String(logging.FieldContentHash, req.ContentHash))
	ticket, err := s.daemon.Submit(ctx, req.ContentHash, req.Priority)
	fillJob(resp, req.ContentHash, ticket, err)
	return nil
}

func (s *service) Retry(req SubmitRequest, resp *JobResponse) error {
	ctx, logger := s.requestContext(req.RequestID)
	logger.Debug("retry requested", logging.String(logging.FieldContentHash, req.ContentHash))
	ticket, err := s.daemon.Retry(ctx, req.ContentHash, req.Priority)
	fillJob(resp, req.ContentHash, ticket, err)
	return nil
}

func fillJob(resp *JobResponse, hash string, ticket *scheduler.Ticket, err error) {
	resp.ContentHash = hash
	if err != nil {
		resp.Failure = failureFrom(err)
		return
	}
	job := ticket.Job()
	resp.JobID = job.ID
	resp.Status = string(ticket.Status())
	resp.Admitted = ticket.Admitted()
	if job.Priority != nil {
		resp.Priority = *job.Priority
	}
}

func (s *service) Stats(_ StatsRequest, resp *StatsResponse) error {
	stats := s.daemon.Stats()
	info := s.daemon.Info()
	*resp = StatsResponse{
		Running:       stats.Running,
		Queued:        stats.Queued,
		InProgress:    stats.InProgress,
		Concurrency:   stats.Concurrency,
		Ongoing:       stats.Ongoing,
		PID:           info.PID,
		LockPath:      info.LockPath,
		StatusBackend: info.StatusBackend,
		WorkDir:       info.WorkDir,
		StoreDir:      info.StoreDir,
	}
	return nil
}

func (s *service) Status(req StatusRequest, resp *StatusResponse) error {
	ctx, _ := s.requestContext(req.RequestID)
	resp.ContentHash = req.ContentHash
	st, err := s.daemon.Status(ctx, req.ContentHash)
	if err != nil {
		resp.Failure = failureFrom(err)
		return nil
	}
	resp.Status = string(st)
	return nil
}

func (s *service) Wait(req WaitRequest, resp *WaitResponse) error {
	ctx, logger := s.requestContext(req.RequestID)
	if req.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	logger.Debug("wait requested", logging.String(logging.FieldContentHash, req.ContentHash))
	resp.ContentHash = req.ContentHash
	out, err := s.daemon.Wait(ctx, req.ContentHash)
	resp.Status = string(out.Status)
	if err != nil {
		resp.Failure = failureFrom(err)
		return nil
	}
	if out.Result.BundleHash != "" {
		resp.Result = summarize(out.Result)
	}
	return nil
}

func summarize(res workflow.JobResult) *JobSummary {
	summary := &JobSummary{
		JobID:        res.JobID,
		BundleHash:   res.BundleHash,
		ManifestPath: res.ManifestPath,
		Screenshots:  res.Screenshots,
		PreviewError: res.PreviewError,
		DurationMS:   res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	}
	for _, r := range res.Renditions {
		summary.Renditions = append(summary.Renditions, RenditionSummary{
			Label:     r.Spec.Label(),
			Bandwidth: r.Spec.Bandwidth,
			Playlist:  filepath.Base(r.PlaylistPath),
		})
	}
	return summary
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, msg, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = msg
	if err != nil {
		resp.Message = fmt.Sprintf("%s: %v", msg, err)
	}
	return nil
}

func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	s.logger.Info("shutdown requested via IPC", logging.String(logging.FieldEventType, "daemon_shutdown_requested"))
	resp.Stopping = s.shutdown != nil
	if s.shutdown != nil {
		// Run after the reply is written so the client sees the acknowledgement.
		s.once.Do(func() { go s.shutdown() })
	}
	return nil
}
