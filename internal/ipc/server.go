package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"log/slog"

	"sentinel/internal/daemon"
	"sentinel/internal/evidence"
	"sentinel/internal/logging"
	"sentinel/internal/session"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Sentinel", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
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
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
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

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the socket file manually before the next start"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func summaryFor(sess *evidence.Session) SessionSummary {
	summary := SessionSummary{
		ID:                 sess.ID,
		UserID:             sess.UserID,
		Status:             string(sess.Status),
		TriggerMethod:      string(sess.TriggerMethod),
		StartedAt:          sess.StartedAt,
		EndedAt:            sess.EndedAt,
		EmergencyContacted: sess.EmergencyContacted,
		EvidenceTotal:      sess.EvidenceTotal,
		ArchivePath:        sess.ArchivePath,
	}
	if len(sess.EvidenceCounts) > 0 {
		summary.EvidenceCounts = make(map[string]int, len(sess.EvidenceCounts))
		for evidenceType, count := range sess.EvidenceCounts {
			summary.EvidenceCounts[string(evidenceType)] = count
		}
	}
	return summary
}

func recordFor(record *evidence.Record) EvidenceRecord {
	return EvidenceRecord{
		ID:             record.ID,
		SessionID:      record.SessionID,
		Type:           string(record.Type),
		Priority:       string(record.Priority),
		CapturedAt:     record.CapturedAt,
		PayloadPath:    record.PayloadPath,
		Metadata:       record.Metadata,
		UploadStatus:   string(record.UploadStatus),
		UploadAttempts: record.UploadAttempts,
		RemoteURI:      record.RemoteURI,
	}
}

func (s *service) SessionStart(req SessionStartRequest, resp *SessionStartResponse) error {
	sess, err := s.daemon.SessionStart(s.ctx, req.UserID, evidence.TriggerMethod(req.Trigger))
	if err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Session = summaryFor(sess)
	resp.Message = "monitoring started"
	s.log().Info("session started via IPC",
		logging.String(logging.FieldSessionID, sess.ID))
	return nil
}

func (s *service) SessionStop(_ SessionStopRequest, resp *SessionStopResponse) error {
	summary, err := s.daemon.SessionStop(s.ctx)
	if err != nil {
		return err
	}
	if summary == nil {
		resp.Stopped = false
		return nil
	}
	resp.Stopped = true
	converted := summaryFor(summary)
	resp.Summary = &converted
	s.log().Info("session stopped via IPC",
		logging.String(logging.FieldSessionID, summary.ID))
	return nil
}

func (s *service) Escalate(req EscalateRequest, resp *EscalateResponse) error {
	if err := s.daemon.Escalate(s.ctx, req.Reason); err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			resp.Escalated = false
			resp.Message = "no active session"
			return nil
		}
		return err
	}
	resp.Escalated = true
	resp.Message = "session escalated"
	return nil
}

func (s *service) Note(req NoteRequest, resp *NoteResponse) error {
	record, err := s.daemon.Note(s.ctx, req.Text)
	if err != nil {
		return err
	}
	resp.RecordID = record.ID
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.State = string(status.Session.State)
	resp.SessionID = status.Session.SessionID
	if !status.Session.StartedAt.IsZero() {
		started := status.Session.StartedAt
		resp.StartedAt = &started
	}
	resp.Emergency = status.Session.Emergency
	resp.QueueStats = map[string]int{
		"total":     status.Queue.Total,
		"pending":   status.Queue.Pending,
		"uploading": status.Queue.Uploading,
		"completed": status.Queue.Completed,
		"failed":    status.Queue.Failed,
	}
	resp.StorageFree = status.StorageFree
	resp.StorageLow = status.StorageLow
	resp.UploadEnabled = status.UploadEnabled
	resp.EvidenceDBPath = status.EvidenceDB
	resp.LockPath = status.LockFilePath
	resp.PID = os.Getpid()
	return nil
}

func (s *service) SessionList(_ SessionListRequest, resp *SessionListResponse) error {
	sessions, err := s.daemon.ListSessions(s.ctx)
	if err != nil {
		return err
	}
	resp.Sessions = make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, summaryFor(sess))
	}
	return nil
}

func (s *service) EvidenceList(req EvidenceListRequest, resp *EvidenceListResponse) error {
	records, err := s.daemon.ListEvidence(s.ctx, req.SessionID)
	if err != nil {
		return err
	}
	resp.Records = make([]EvidenceRecord, 0, len(records))
	for _, record := range records {
		resp.Records = append(resp.Records, recordFor(record))
	}
	return nil
}

func (s *service) EvidenceRetry(req EvidenceRetryRequest, resp *EvidenceRetryResponse) error {
	updated, err := s.daemon.RetryFailed(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	resp.Updated = updated
	return nil
}

func (s *service) Compress(_ CompressRequest, resp *CompressResponse) error {
	result, err := s.daemon.Compress(s.ctx)
	if err != nil {
		return err
	}
	resp.Compressed = result.Compressed
	resp.Skipped = result.Skipped
	resp.Reclaimed = result.Reclaimed
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	if err != nil {
		s.log().Warn("test notification failed", logging.Error(err))
	}
	return nil
}
