package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	xerrors "Sigha-Chain/internal/errors"
	"Sigha-Chain/internal/observability/metrics"
	"Sigha-Chain/internal/session"
)

// Server 负责暴露 REST 接口，供外部驱动追踪会话。
type Server struct {
	addr    string
	service *session.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service *session.Service) *Server {
	return &Server{addr: addr, service: service}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions", s.instrument("sessions", s.handleSessions))
	mux.HandleFunc("/api/v1/sessions/update", s.instrument("update", s.handleUpdate))
	mux.HandleFunc("/api/v1/sessions/fanout", s.instrument("fanout", s.handleFanout))
	mux.HandleFunc("/api/v1/sessions/subtrace", s.instrument("subtrace", s.handleSubtrace))
	mux.HandleFunc("/api/v1/sessions/seal", s.instrument("seal", s.handleSeal))
	mux.HandleFunc("/api/v1/sessions/export", s.instrument("export", s.handleExport))
	mux.HandleFunc("/api/v1/sessions/import", s.instrument("import", s.handleImport))
	mux.HandleFunc("/api/v1/verify/path", s.instrument("verify_path", s.handleVerifyPath))
	mux.HandleFunc("/api/v1/verify/seal", s.instrument("verify_seal", s.handleVerifySeal))
	mux.HandleFunc("/api/v1/seals", s.instrument("seals", s.handleListSeals))
	mux.Handle("/metrics", metrics.Handler())

	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// instrument 为处理器接入 HTTP 指标采集。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "会话服务未初始化"))
		return
	}
	switch r.Method {
	case http.MethodPost:
		info, err := s.service.Create(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	case http.MethodGet:
		id := r.URL.Query().Get("id")
		info, err := s.service.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

type updateRequest struct {
	SessionID    string `json:"session_id"`
	AgentID      string `json:"agent_id"`
	ExpectedPrev string `json:"expected_prev,omitempty"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	info, err := s.service.Update(r.Context(), req.SessionID, req.AgentID, req.ExpectedPrev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type fanoutRequest struct {
	SessionID string   `json:"session_id"`
	Branches  []string `json:"branches"`
}

func (s *Server) handleFanout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req fanoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	info, err := s.service.Fanout(r.Context(), req.SessionID, req.Branches)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type subtraceRequest struct {
	SessionID string   `json:"session_id"`
	Name      string   `json:"name"`
	Steps     []string `json:"steps"`
}

func (s *Server) handleSubtrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req subtraceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	info, err := s.service.Subtrace(r.Context(), req.SessionID, req.Name, req.Steps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type sealRequest struct {
	SessionID string `json:"session_id"`
	Payload   []byte `json:"payload"`
}

func (s *Server) handleSeal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req sealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	result, err := s.service.Seal(r.Context(), req.SessionID, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	blob, err := s.service.Export(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]byte{"blob": blob})
}

type importRequest struct {
	Blob []byte `json:"blob"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	info, err := s.service.Import(req.Blob)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type verifyPathRequest struct {
	T    string   `json:"t"`
	Path []string `json:"path"`
}

type verifyResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

func (s *Server) handleVerifyPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req verifyPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	ok, reason := s.service.VerifyPath(req.T, req.Path)
	writeJSON(w, http.StatusOK, verifyResponse{OK: ok, Reason: reason})
}

type verifySealRequest struct {
	SessionID string `json:"session_id"`
	Payload   []byte `json:"payload"`
}

func (s *Server) handleVerifySeal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req verifySealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	ok, reason, err := s.service.VerifySeal(r.Context(), req.SessionID, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{OK: ok, Reason: reason})
}

func (s *Server) handleListSeals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.service.ListSeals(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeWeakParameters, xerrors.CodeDeserialization:
		status = http.StatusBadRequest
	case xerrors.CodeNotRegistered, session.CodeSessionNotFound, session.CodeSealNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, xerrors.CodeSealed:
		status = http.StatusConflict
	case xerrors.CodeOpsExhausted:
		status = http.StatusTooManyRequests
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]errorPayload{"error": {Code: string(code), Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	// 包装处理器以检查上下文状态。
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
