package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/tournevent/uspsbridge/internal/shipment"
	"github.com/tournevent/uspsbridge/pkg/shipper"
	"go.uber.org/zap"
)

func (s *Server) handleCarriers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"carriers": s.registry.Names()})
}

// handleValidateAddress accepts a single address or {"addresses": [...]}.
func (s *Server) handleValidateAddress(w http.ResponseWriter, r *http.Request) {
	carrier, ok := s.carrier(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var batch batchAddressRequest
	if err := json.Unmarshal(body, &batch); err == nil && batch.Addresses != nil {
		if err := s.validate.Validate(batch); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), shipper.CodeValidation)
			return
		}
		addrs := make([]shipper.Address, len(batch.Addresses))
		for i, a := range batch.Addresses {
			addrs[i] = a.toModel()
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": validateAll(r, carrier, addrs)})
		return
	}

	var single addressInput
	if !s.decodeBytes(w, body, &single) {
		return
	}
	writeJSON(w, http.StatusOK, carrier.ValidateAddress(r.Context(), single.toModel()))
}

// validateAll uses the carrier's batch path when it has one.
func validateAll(r *http.Request, carrier shipper.Shipper, addrs []shipper.Address) []shipper.AddressValidation {
	type batchValidator interface {
		ValidateAddresses(ctx context.Context, addrs []shipper.Address) []shipper.AddressValidation
	}
	if bv, ok := carrier.(batchValidator); ok {
		return bv.ValidateAddresses(r.Context(), addrs)
	}
	out := make([]shipper.AddressValidation, len(addrs))
	for i, a := range addrs {
		out[i] = carrier.ValidateAddress(r.Context(), a)
	}
	return out
}

// handleRates quotes one carrier, or every registered carrier with
// ?carrier=all.
func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !s.decode(w, r, &req) {
		return
	}
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	if carrierParam(r) == allCarriers {
		results, errs := s.registry.GetAllRates(r.Context(), req.toModel(), !refresh)
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "errors": msgs})
		return
	}

	carrier, ok := s.carrier(w, r)
	if !ok {
		return
	}

	set, err := carrier.GetRates(r.Context(), req.toModel(), !refresh)
	if err != nil {
		s.carrierError(w, r, carrier.Name(), err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordRateLookup(carrier.Name(), set.FromCache)
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	carrier, ok := s.carrier(w, r)
	if !ok {
		return
	}
	var req labelRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := carrier.CreateLabel(r.Context(), req.toModel())
	if err != nil {
		s.carrierError(w, r, carrier.Name(), err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleCancelLabel(w http.ResponseWriter, r *http.Request) {
	carrier, ok := s.carrier(w, r)
	if !ok {
		return
	}
	result, err := carrier.CancelLabel(r.Context(), r.PathValue("trackingNumber"))
	if err != nil {
		s.carrierError(w, r, carrier.Name(), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	carrier, ok := s.carrier(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, carrier.Track(r.Context(), r.PathValue("trackingNumber")))
}

func (s *Server) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Carrier == "" {
		req.Carrier = carrierParam(r)
	}

	sh, err := s.shipments.CreateShipment(r.Context(), req.toModel())
	if err != nil {
		s.carrierError(w, r, req.Carrier, err)
		return
	}
	writeJSON(w, http.StatusCreated, sh)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchShipmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	reqs := make([]*shipment.CreateRequest, len(req.Shipments))
	for i, item := range req.Shipments {
		if item.Carrier == "" {
			item.Carrier = carrierParam(r)
		}
		reqs[i] = item.toModel()
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": s.shipments.CreateBatch(r.Context(), reqs)})
}

func (s *Server) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	sh, err := s.shipments.GetShipment(r.Context(), r.PathValue("trackingNumber"))
	if err != nil {
		s.carrierError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (s *Server) handleTrackingWebhook(w http.ResponseWriter, r *http.Request) {
	var payload trackingWebhook
	if !s.decode(w, r, &payload) {
		return
	}

	res := payload.toModel()
	applied, err := s.shipments.ApplyTracking(r.Context(), res)
	if err != nil {
		s.carrierError(w, r, defaultCarrier, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tracking_number": res.TrackingNumber,
		"status":          res.Status,
		"applied":         applied,
	})
}

// carrier resolves ?carrier= through the registry.
func (s *Server) carrier(w http.ResponseWriter, r *http.Request) (shipper.Shipper, bool) {
	c, err := s.registry.Get(carrierParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return nil, false
	}
	return c, true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid body: "+err.Error(), "")
		return nil, false
	}
	return body, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := readBody(w, r)
	if !ok {
		return false
	}
	return s.decodeBytes(w, body, v)
}

func (s *Server) decodeBytes(w http.ResponseWriter, body []byte, v any) bool {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error(), "")
		return false
	}
	if err := s.validate.Validate(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), shipper.CodeValidation)
		return false
	}
	return true
}

// carrierError maps domain errors onto HTTP statuses.
func (s *Server) carrierError(w http.ResponseWriter, r *http.Request, carrier string, err error) {
	status := http.StatusInternalServerError
	code := ""
	var se *shipper.ShipperError
	if errors.As(err, &se) {
		code = se.Code
	}

	switch {
	case errors.Is(err, shipper.ErrShipmentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, shipper.ErrCarrierNotFound):
		status = http.StatusBadRequest
	case errors.Is(err, shipper.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, shipper.ErrTransport):
		status = http.StatusGatewayTimeout
	case errors.Is(err, shipper.ErrAuthentication),
		errors.Is(err, shipper.ErrAPI),
		errors.Is(err, shipper.ErrLabelCreation):
		status = http.StatusBadGateway
	}

	if s.metrics != nil && code != "" {
		s.metrics.RecordError(carrier, code)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Ctx(r.Context()).Error("Request failed",
			zap.String("carrier", carrier),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
