package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"drift-go/internal/drift"
)

// ingestRequest is the body of a snapshot submission. Tenant and tier come
// from headers.
type ingestRequest struct {
	TenantID string          `json:"-" validate:"required,max=128"`
	Tier     string          `json:"-" validate:"omitempty,max=64"`
	Data     json.RawMessage `json:"data" validate:"required"`
	Source   string          `json:"source" validate:"required"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.opts.MaxPayloadBytes+bodyOverhead)))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, string(drift.CodePayloadTooLarge), "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "could not read request body")
		return
	}

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(drift.CodeInvalidJSON), "invalid request payload")
		return
	}
	req.TenantID = r.Header.Get("X-Tenant-ID")
	req.Tier = r.Header.Get("X-Tenant-Tier")
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.ingester.Ingest(r.Context(), drift.IngestRequest{
		TenantKey:  req.TenantID,
		Tier:       req.Tier,
		EndpointID: mux.Vars(r)["endpointID"],
		Data:       req.Data,
		Source:     req.Source,
		Metadata:   req.Metadata,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if d := res.RateLimit; d != nil {
		setRateLimitHeaders(w, d.Limit, d.Remaining, d.ResetAt)
	}
	status := http.StatusCreated
	if res.IsDuplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}
