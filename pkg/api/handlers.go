package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ssargent/mcapkit/pkg/catalog"
	"github.com/ssargent/mcapkit/pkg/codec"
	"github.com/ssargent/mcapkit/pkg/logging"
	"github.com/ssargent/mcapkit/pkg/reader"
)

// Server holds the API server state
type Server struct {
	files   FileCatalog
	config  ServerConfig
	metrics *Metrics
	log     logrus.FieldLogger
}

// NewServer creates a new API server
func NewServer(files FileCatalog, config ServerConfig, metrics *Metrics) *Server {
	log := config.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Server{
		files:   files,
		config:  config,
		metrics: metrics,
		log:     log.WithField("component", "api"),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordHealthCheck()
	sendSuccess(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	entries, err := s.files.List()
	s.metrics.RecordCatalogOperation("list", err == nil, time.Since(start))
	if err != nil {
		s.fail(w, "Failed to list files", err)
		return
	}
	s.metrics.SetCatalogFiles(len(entries))
	if entries == nil {
		entries = []*catalog.Entry{}
	}
	sendSuccess(w, entries)
}

func (s *Server) handleAddFile(w http.ResponseWriter, r *http.Request) {
	var req AddFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid JSON request", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		sendError(w, "path is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	entry, err := s.files.Add(req.Path, s.readerOptions())
	s.metrics.RecordCatalogOperation("add", err == nil, time.Since(start))
	if err != nil {
		s.fail(w, "Failed to add file", err)
		return
	}
	sendStatus(w, entry, http.StatusCreated)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	entry, err := s.files.Get(chi.URLParam(r, "id"))
	s.metrics.RecordCatalogOperation("get", err == nil, time.Since(start))
	if err != nil {
		s.fail(w, "Failed to get file", err)
		return
	}
	sendSuccess(w, entry)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	start := time.Now()
	err := s.files.Remove(id)
	s.metrics.RecordCatalogOperation("remove", err == nil, time.Since(start))
	if err != nil {
		s.fail(w, "Failed to remove file", err)
		return
	}
	sendSuccess(w, map[string]string{"id": id})
}

func (s *Server) handleTopicFiles(w http.ResponseWriter, r *http.Request) {
	// topics usually contain slashes, which arrive escaped
	topic, err := url.PathUnescape(chi.URLParam(r, "topic"))
	if err != nil {
		sendError(w, "Invalid topic encoding", http.StatusBadRequest)
		return
	}

	start := time.Now()
	entries, err := s.files.FindByTopic(topic)
	s.metrics.RecordCatalogOperation("find", err == nil, time.Since(start))
	if err != nil {
		s.fail(w, "Failed to find files", err)
		return
	}
	if entries == nil {
		entries = []*catalog.Entry{}
	}
	sendSuccess(w, entries)
}

// handleMessages returns messages from one file. Query parameters: topic
// (repeatable), start and end (inclusive log time bounds) and limit.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	query := r.URL.Query()

	var opts []reader.MessageOption
	if topics := query["topic"]; len(topics) > 0 {
		opts = append(opts, reader.WithTopics(topics...))
	}
	startTime, err := parseUint(query.Get("start"), 0)
	if err != nil {
		sendError(w, "Invalid start: "+err.Error(), http.StatusBadRequest)
		return
	}
	endTime, err := parseUint(query.Get("end"), reader.MaxTime)
	if err != nil {
		sendError(w, "Invalid end: "+err.Error(), http.StatusBadRequest)
		return
	}
	if startTime > endTime {
		sendError(w, "start must not be after end", http.StatusBadRequest)
		return
	}
	opts = append(opts, reader.WithTimeRange(startTime, endTime))

	limit, err := parseUint(query.Get("limit"), defaultMessageLimit)
	if err != nil || limit == 0 || limit > maxMessageLimit {
		sendError(w, fmt.Sprintf("limit must be between 1 and %d", maxMessageLimit), http.StatusBadRequest)
		return
	}

	entry, err := s.files.Get(id)
	if err != nil {
		s.fail(w, "Failed to get file", err)
		return
	}

	page, err := s.readMessages(entry, int(limit), opts)
	if err != nil {
		s.fail(w, "Failed to read messages", err)
		return
	}
	s.metrics.RecordMessagesServed(len(page.Messages))
	sendSuccess(w, page)
}

func (s *Server) readMessages(entry *catalog.Entry, limit int, opts []reader.MessageOption) (*MessagesPage, error) {
	r, err := reader.OpenFile(entry.Path, s.readerOptions())
	if err != nil {
		return nil, err
	}
	defer r.Close()

	it := r.Messages(opts...)
	defer it.Close()

	page := &MessagesPage{
		FileID:   entry.ID,
		Indexed:  it.Indexed(),
		Messages: make([]MessageResponse, 0, min(limit, defaultMessageLimit)),
	}
	for it.Next() {
		if len(page.Messages) == limit {
			page.Truncated = true
			break
		}
		page.Messages = append(page.Messages, toMessageResponse(it.Event()))
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	for _, warning := range r.Warnings() {
		page.Warnings = append(page.Warnings, warning.Error())
	}
	return page, nil
}

func toMessageResponse(ev reader.MessageEvent) MessageResponse {
	resp := MessageResponse{
		ChannelID:   ev.Message.ChannelID,
		Sequence:    ev.Message.Sequence,
		LogTime:     ev.Message.LogTime,
		PublishTime: ev.Message.PublishTime,
	}
	if ev.Channel != nil {
		resp.Topic = ev.Channel.Topic
		resp.Encoding = ev.Channel.MessageEncoding
	}
	if resp.Encoding == "json" && json.Valid(ev.Message.Data) {
		resp.JSON = json.RawMessage(ev.Message.Data)
	} else {
		resp.Data = ev.Message.Data
	}
	return resp
}

// readerOptions counts warnings in addition to whatever the configured
// options already do with them.
func (s *Server) readerOptions() reader.Options {
	opts := s.config.Reader
	if opts.Logger == nil {
		opts.Logger = s.log
	}
	hook := opts.OnWarning
	opts.OnWarning = func(err error) {
		s.metrics.RecordReadWarning()
		if hook != nil {
			hook(err)
		}
	}
	return opts
}

// fail maps err onto an HTTP status and sends it
func (s *Server) fail(w http.ResponseWriter, message string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.WithError(err).Error(message)
	}
	sendError(w, fmt.Sprintf("%s: %v", message, err), code)
}

func statusFor(err error) int {
	var formatErr *codec.FormatError
	var crcErr *codec.CRCError
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.As(err, &formatErr), errors.As(err, &crcErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func parseUint(s string, fallback uint64) (uint64, error) {
	if s == "" {
		return fallback, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
