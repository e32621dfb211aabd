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
	"time"

	"bookbag/internal/daemon"
	"bookbag/internal/logging"
	"bookbag/internal/store"
)

// ServiceName is the JSON-RPC service the daemon registers.
const ServiceName = "Bookbag"

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

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	serverCtx, cancel := context.WithCancel(ctx)
	srv := &service{daemon: d, logger: logger, ctx: serverCtx}
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

// Close stops the server and removes the socket file.
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
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status, err := s.daemon.Status(s.ctx)
	if err != nil {
		return err
	}
	fromStatus(status, resp)
	resp.PID = os.Getpid()
	return nil
}

func (s *service) ItemAdd(req ItemAddRequest, resp *ItemAddResponse) error {
	kinds := make([]store.Kind, 0, len(req.Kinds))
	for _, value := range req.Kinds {
		kind, err := parseKind(value, store.KindEbook)
		if err != nil {
			return err
		}
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		kinds = append(kinds, store.KindEbook)
	}
	item, err := s.daemon.AddItem(s.ctx, &store.CatalogItem{
		Title:      strings.TrimSpace(req.Title),
		AuthorName: strings.TrimSpace(req.Author),
		ISBN:       req.ISBN,
		Language:   req.Language,
	}, kinds...)
	if err != nil {
		return err
	}
	resp.Item = fromItem(item)
	s.logger.Info("catalog item added",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldEventType, "item_added"),
	)
	return nil
}

func (s *service) ItemList(req ItemListRequest, resp *ItemListResponse) error {
	kind, err := parseKind(req.Kind, "")
	if err != nil {
		return err
	}
	statuses, err := parseStatuses(req.Statuses)
	if err != nil {
		return err
	}
	items, err := s.daemon.ListItems(s.ctx, kind, statuses...)
	if err != nil {
		return err
	}
	resp.Items = make([]Item, 0, len(items))
	for _, item := range items {
		resp.Items = append(resp.Items, fromItem(item))
	}
	return nil
}

func (s *service) Search(req SearchRequest, resp *SearchResponse) error {
	kind, err := parseKind(req.Kind, store.KindEbook)
	if err != nil {
		return err
	}
	outcome, err := s.daemon.Search(s.ctx, strings.TrimSpace(req.ItemID), kind)
	if err != nil {
		return err
	}
	resp.Candidates = outcome.Candidates
	resp.Deferred = outcome.Deferred
	resp.NextSearch = outcome.NextSearch
	resp.Reason = outcome.Reason
	for _, perr := range outcome.Errors {
		resp.Errors = append(resp.Errors, perr.Error())
	}
	if outcome.Snatched != nil {
		resp.Snatched = true
		resp.Title = outcome.Snatched.Title
		resp.URL = outcome.Snatched.URL
		resp.Provider = outcome.Snatched.Provider
		resp.Score = outcome.Snatched.Score
	}
	return nil
}

func (s *service) ManualSearch(req ManualSearchRequest, resp *ManualSearchResponse) error {
	kind, err := parseKind(req.Kind, store.KindEbook)
	if err != nil {
		return err
	}
	results, err := s.daemon.ManualSearch(s.ctx, strings.TrimSpace(req.ItemID), kind)
	if err != nil {
		return err
	}
	resp.Term = results.Term
	resp.Results = make([]SearchResult, 0, len(results.Results))
	for _, r := range results.Results {
		resp.Results = append(resp.Results, fromScored(r))
	}
	for _, perr := range results.Errors {
		resp.Errors = append(resp.Errors, perr.Error())
	}
	return nil
}

func (s *service) Snatch(req SnatchRequest, resp *SnatchResponse) error {
	kind, err := parseKind(req.Kind, store.KindEbook)
	if err != nil {
		return err
	}
	result, err := s.daemon.SnatchURL(s.ctx, strings.TrimSpace(req.ItemID), kind, req.URL)
	if err != nil {
		return err
	}
	resp.Result = fromScored(*result)
	s.logger.Info("manual snatch",
		logging.String(logging.FieldItemID, req.ItemID),
		logging.String(logging.FieldEventType, "manual_snatch"),
	)
	return nil
}

func (s *service) WantedList(req WantedListRequest, resp *WantedListResponse) error {
	phases, err := parseStatuses(req.Phases)
	if err != nil {
		return err
	}
	entries, err := s.daemon.ListWanted(s.ctx, phases...)
	if err != nil {
		return err
	}
	resp.Entries = make([]WantedEntry, 0, len(entries))
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, fromWanted(entry))
	}
	return nil
}

func (s *service) WantedClear(req WantedClearRequest, resp *WantedClearResponse) error {
	removed, err := s.daemon.ClearWanted(s.ctx, time.Duration(req.OlderThanHours)*time.Hour)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) BlacklistList(_ BlacklistListRequest, resp *BlacklistListResponse) error {
	entries, err := s.daemon.ListBlacklist(s.ctx)
	if err != nil {
		return err
	}
	resp.Entries = make([]BlacklistEntry, 0, len(entries))
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, fromBlacklist(entry))
	}
	return nil
}

func (s *service) BlacklistAdd(req BlacklistAddRequest, _ *BlacklistAddResponse) error {
	if err := s.daemon.AddBlacklist(s.ctx, req.URL, store.Reason(strings.TrimSpace(req.Reason))); err != nil {
		return err
	}
	s.logger.Info("url blacklisted", logging.String(logging.FieldEventType, "blacklist_add"))
	return nil
}

func (s *service) BlacklistRemove(req BlacklistRemoveRequest, resp *BlacklistRemoveResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid blacklist id %d", req.ID)
	}
	removed, err := s.daemon.RemoveBlacklist(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) UnmatchedList(req UnmatchedListRequest, resp *UnmatchedListResponse) error {
	statuses := make([]store.UnmatchedStatus, 0, len(req.Statuses))
	for _, value := range req.Statuses {
		status, ok := store.ParseUnmatchedStatus(value)
		if !ok {
			return fmt.Errorf("unknown unmatched status %q", value)
		}
		statuses = append(statuses, status)
	}
	files, err := s.daemon.ListUnmatched(s.ctx, statuses...)
	if err != nil {
		return err
	}
	resp.Files = make([]UnmatchedFile, 0, len(files))
	for _, file := range files {
		resp.Files = append(resp.Files, fromUnmatched(file))
	}
	return nil
}

func (s *service) UnmatchedIgnore(req UnmatchedIgnoreRequest, _ *UnmatchedIgnoreResponse) error {
	return s.daemon.IgnoreUnmatched(s.ctx, strings.TrimSpace(req.FileID))
}

func (s *service) UnmatchedCandidates(req UnmatchedCandidatesRequest, resp *UnmatchedCandidatesResponse) error {
	candidates, err := s.daemon.UnmatchedCandidates(s.ctx, strings.TrimSpace(req.FileID))
	if err != nil {
		return err
	}
	resp.Candidates = make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		resp.Candidates = append(resp.Candidates, Candidate{Item: fromItem(c.Item), Score: c.Score})
	}
	return nil
}

func (s *service) UnmatchedMatch(req UnmatchedMatchRequest, _ *UnmatchedMatchResponse) error {
	return s.daemon.MatchUnmatched(s.ctx, strings.TrimSpace(req.FileID), strings.TrimSpace(req.ItemID))
}

func (s *service) ClearDelay(req ClearDelayRequest, _ *ClearDelayResponse) error {
	kind, err := parseKind(req.Kind, store.KindEbook)
	if err != nil {
		return err
	}
	return s.daemon.ClearDelay(s.ctx, strings.TrimSpace(req.ItemID), kind)
}

func (s *service) Cancel(req CancelRequest, _ *CancelResponse) error {
	return s.daemon.Cancel(s.ctx, strings.TrimSpace(req.URL))
}

func (s *service) JobTrigger(req JobTriggerRequest, _ *JobTriggerResponse) error {
	if err := s.daemon.TriggerJob(strings.TrimSpace(req.Name)); err != nil {
		return err
	}
	s.logger.Info("job triggered",
		logging.String(logging.FieldJob, req.Name),
		logging.String(logging.FieldEventType, "job_triggered"),
	)
	return nil
}

func (s *service) PostprocessRun(_ PostprocessRunRequest, resp *PostprocessRunResponse) error {
	summary, err := s.daemon.RunPostprocess(s.ctx)
	resp.Checked = summary.Checked
	resp.Processed = summary.Processed
	resp.Failed = summary.Failed
	resp.Unmatched = summary.Unmatched
	resp.Pending = summary.Pending
	return err
}

func (s *service) LibraryScan(_ LibraryScanRequest, resp *LibraryScanResponse) error {
	summary, err := s.daemon.ScanLibrary(s.ctx)
	resp.Books = summary.Books
	resp.Known = summary.Known
	resp.Linked = summary.Linked
	resp.Unmatched = summary.Unmatched
	resp.Pruned = summary.Pruned
	return err
}

func (s *service) ProviderUsage(_ ProviderUsageRequest, resp *ProviderUsageResponse) error {
	usage, err := s.daemon.ProviderUsage(s.ctx)
	if err != nil {
		return err
	}
	resp.Usage = make([]ProviderUsage, 0, len(usage))
	for _, u := range usage {
		resp.Usage = append(resp.Usage, ProviderUsage{Name: u.Name, Day: u.Day, Count: u.Count})
	}
	return nil
}
