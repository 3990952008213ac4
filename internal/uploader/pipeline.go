// Package uploader drains pending evidence to remote object storage.
//
// The pipeline runs for the life of the daemon, independent of session
// state, so evidence captured offline is uploaded whenever connectivity
// and authentication allow.
package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/evidence"
	"sentinel/internal/identity"
	"sentinel/internal/logging"
	"sentinel/internal/remote"
	"sentinel/internal/services"
)

const (
	// maxUploadAttempts is the per-record budget before a record is parked
	// as failed and left for manual requeue.
	maxUploadAttempts = 3
	// maxAuthRetries bounds re-validation when a token looks invalid, which
	// usually means a refresh is in flight.
	maxAuthRetries = 3
	// authRetryStep is multiplied by the attempt number between
	// re-validations.
	authRetryStep = 1000 * time.Millisecond

	connectivityTimeout = 3 * time.Second
)

// PassResult summarizes one drain pass over the pending queue.
type PassResult struct {
	Uploaded int
	Released int
	Failed   int
	Skipped  string
}

// recordStore is the slice of the evidence store the pipeline drives.
type recordStore interface {
	ListPending(ctx context.Context) ([]*evidence.Record, error)
	MarkUploading(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, remoteURI string) error
	ReleaseForRetry(ctx context.Context, id string) (int, error)
	MarkFailed(ctx context.Context, id string) error
}

// Pipeline owns the background upload loop.
type Pipeline struct {
	cfg       config.Upload
	store     recordStore
	client    remote.Client
	validator identity.Validator
	logger    *slog.Logger

	// sleep and dial are swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
	dial  func(host string, timeout time.Duration) error
}

// NewPipeline wires the upload pipeline. A nil logger is replaced with a
// nop.
func NewPipeline(cfg config.Upload, store *evidence.Store, client remote.Client, validator identity.Validator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		client:    client,
		validator: validator,
		logger:    logging.NewComponentLogger(logger, "uploader"),
		sleep:     sleepCtx,
		dial:      dialHost,
	}
}

// Run drains the queue on the configured cadence until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	interval := time.Duration(p.cfg.PollInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Warn("upload pass failed", logging.Error(err))
		} else if result.Uploaded > 0 || result.Failed > 0 {
			p.logger.Info("upload pass complete",
				logging.Int("uploaded", result.Uploaded),
				logging.Int("released", result.Released),
				logging.Int("failed", result.Failed),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single drain pass. Pending records stay pending when
// the pass is skipped for connectivity or authentication reasons.
func (p *Pipeline) RunOnce(ctx context.Context) (PassResult, error) {
	if p.cfg.ConnectivityHost != "" {
		if err := p.dial(p.cfg.ConnectivityHost, connectivityTimeout); err != nil {
			p.logger.Debug("offline, skipping upload pass", logging.Error(err))
			return PassResult{Skipped: "offline"}, nil
		}
	}

	auth, err := p.authenticate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return PassResult{}, ctx.Err()
		}
		p.logger.Debug("not authenticated, skipping upload pass", logging.Error(err))
		return PassResult{Skipped: "auth"}, nil
	}

	pending, err := p.store.ListPending(ctx)
	if err != nil {
		return PassResult{}, fmt.Errorf("list pending evidence: %w", err)
	}

	var result PassResult
	for _, record := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		switch p.uploadRecord(ctx, record, auth) {
		case uploadOK:
			result.Uploaded++
		case uploadReleased:
			result.Released++
		case uploadFailed:
			result.Failed++
		}
	}
	return result, nil
}

// authenticate gates the pass on token state. A missing token aborts
// immediately; an invalid one is re-checked a few times because the token
// file may be refreshed out from under us.
func (p *Pipeline) authenticate(ctx context.Context) (identity.Result, error) {
	for attempt := 1; ; attempt++ {
		result := p.validator.Validate(ctx)
		switch result.State {
		case identity.StateValid:
			return result, nil
		case identity.StateNotAuthenticated:
			return identity.Result{}, services.Wrap(services.ErrNotAuthenticated, "uploader", "auth", "no token on disk", nil)
		case identity.StateInvalidToken, identity.StateInconsistent:
			if attempt >= maxAuthRetries {
				return identity.Result{}, services.Wrap(services.ErrInvalidToken, "uploader", "auth",
					fmt.Sprintf("token still invalid after %d checks", attempt), nil)
			}
			p.logger.Debug("token invalid, re-checking",
				logging.Int(logging.FieldAttempt, attempt),
				logging.String("state", string(result.State)),
			)
			if err := p.sleep(ctx, time.Duration(attempt)*authRetryStep); err != nil {
				return identity.Result{}, err
			}
		default:
			return identity.Result{}, services.Wrap(services.ErrTransient, "uploader", "auth", "token check failed", nil)
		}
	}
}

type uploadOutcome int

const (
	uploadOK uploadOutcome = iota
	uploadReleased
	uploadFailed
)

func (p *Pipeline) uploadRecord(ctx context.Context, record *evidence.Record, auth identity.Result) uploadOutcome {
	logger := p.logger.With(
		logging.String(logging.FieldEvidenceID, record.ID),
		logging.String(logging.FieldSessionID, record.SessionID),
		logging.String(logging.FieldEvidenceType, string(record.Type)),
	)

	if err := p.store.MarkUploading(ctx, record.ID); err != nil {
		logger.Debug("record no longer pending", logging.Error(err))
		return uploadReleased
	}

	remoteURI, err := p.transfer(ctx, record, auth)
	if err == nil {
		if err := p.store.MarkCompleted(ctx, record.ID, remoteURI); err != nil {
			// The remote copy exists and both object keys are stable, so a
			// re-transfer on the next pass overwrites rather than duplicates.
			logger.Error("uploaded but could not mark completed, releasing for retry", logging.Error(err))
			if _, releaseErr := p.store.ReleaseForRetry(ctx, record.ID); releaseErr != nil {
				logger.Error("could not release record for retry", logging.Error(releaseErr))
				return uploadFailed
			}
			return uploadReleased
		}
		logger.Debug("evidence uploaded", logging.String("remote_uri", remoteURI))
		return uploadOK
	}

	if record.UploadAttempts+1 >= maxUploadAttempts {
		if markErr := p.store.MarkFailed(ctx, record.ID); markErr != nil {
			logger.Error("could not park exhausted record", logging.Error(markErr))
		}
		logger.Warn("upload attempts exhausted, parking record",
			logging.Error(err),
			logging.Int(logging.FieldAttempt, record.UploadAttempts+1),
		)
		return uploadFailed
	}

	if _, releaseErr := p.store.ReleaseForRetry(ctx, record.ID); releaseErr != nil {
		logger.Error("could not release record for retry", logging.Error(releaseErr))
		return uploadFailed
	}
	logger.Debug("upload failed, will retry",
		logging.Error(err),
		logging.Int(logging.FieldAttempt, record.UploadAttempts+1),
	)
	return uploadReleased
}

// transfer ships the payload file (when present) and then the metadata
// document. The document is authoritative; a record without a payload, such
// as a location fix, still produces a document upload.
func (p *Pipeline) transfer(ctx context.Context, record *evidence.Record, auth identity.Result) (string, error) {
	var payloadURI string
	if record.PayloadPath != "" {
		suffix := filepath.Ext(record.PayloadPath)
		key := remote.Key(record.SessionID, record.ID, suffix)
		uri, err := p.client.PutFile(ctx, key, record.PayloadPath, contentTypeFor(record.Type))
		if err != nil {
			return "", fmt.Errorf("payload: %w", err)
		}
		payloadURI = uri
	}

	doc, err := json.Marshal(documentFor(record, auth.PrincipalID, payloadURI))
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	docKey := remote.Key(record.SessionID, record.ID, ".json")
	docURI, err := p.client.PutDocument(ctx, docKey, doc)
	if err != nil {
		return "", fmt.Errorf("document: %w", err)
	}
	if payloadURI != "" {
		return payloadURI, nil
	}
	return docURI, nil
}

// document is the remote metadata representation of an evidence record.
type document struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	PrincipalID string            `json:"principal_id"`
	Type        string            `json:"type"`
	Priority    string            `json:"priority"`
	CapturedAt  time.Time         `json:"captured_at"`
	PayloadURI  string            `json:"payload_uri,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func documentFor(record *evidence.Record, principalID, payloadURI string) document {
	return document{
		ID:          record.ID,
		SessionID:   record.SessionID,
		PrincipalID: principalID,
		Type:        string(record.Type),
		Priority:    string(record.Priority),
		CapturedAt:  record.CapturedAt,
		PayloadURI:  payloadURI,
		Metadata:    record.Metadata,
	}
}

func contentTypeFor(t evidence.Type) string {
	switch t {
	case evidence.TypePhoto:
		return "image/jpeg"
	case evidence.TypeAudio, evidence.TypeTranscription:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func dialHost(host string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", host, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}
