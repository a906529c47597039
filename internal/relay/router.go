package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"miovo-bridge/internal/backend"
	"miovo-bridge/internal/metrics"
	"miovo-bridge/pkg/api"
)

// Request is one decoded client message together with the session it
// arrived on.
type Request struct {
	Type      string
	RequestId string
	Data      json.RawMessage

	session *Session
}

func (r *Request) Reply(msgType string, data any) bool {
	return r.session.Send(api.Message{Type: msgType, Data: data, RequestId: r.RequestId})
}

func (r *Request) Push(msg api.Message) {
	r.session.Send(msg)
}

// SessionContext ends when the requesting client disconnects.
func (r *Request) SessionContext() context.Context {
	return r.session.Context()
}

type Handler func(ctx context.Context, req *Request) error

func decodeData[T any](req *Request) (T, error) {
	var data T
	if len(req.Data) == 0 || string(req.Data) == "null" {
		return data, nil
	}
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return data, CodedErrorf("invalid data for %s: %v", req.Type, err)
	}
	return data, nil
}

type SynthesisService interface {
	Speakers(ctx context.Context) api.VoicesResponse
	Synthesize(ctx context.Context, req api.SynthesizeRequest) (api.SynthesisResponse, error)
	Passthrough(ctx context.Context, req api.PassthroughRequest) (api.PassthroughResponse, error)
}

type ConversionService interface {
	Upload(ctx context.Context, req api.UploadRequest) (api.UploadResponse, error)
	NotifyProcessed(ctx context.Context, upload api.UploadResponse, notify backend.Notify)
	Convert(ctx context.Context, req api.ConversionRequest) (api.ConversionResponse, error)
}

type TrainingService interface {
	Start(ctx context.Context, req api.TrainingRequest, started func(api.TrainingStartedResponse), notify backend.Notify) error
}

type route struct {
	handler Handler
	inline  bool
}

// Router dispatches client messages by type. Messages from one session
// are dispatched in receipt order. Inline handlers run to completion on the
// session's read goroutine; the rest call a backend and run on their own
// goroutine, so their replies can complete out of order. Handler errors and
// panics become a single error reply and never close the connection.
type Router struct {
	baseCtx context.Context
	routes  map[string]route
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func NewRouter(baseCtx context.Context, synthesis SynthesisService, conversion ConversionService, training TrainingService, m *metrics.Metrics) *Router {
	router := &Router{
		baseCtx: baseCtx,
		routes:  make(map[string]route),
		metrics: m,
	}

	h := &handlers{synthesis: synthesis, conversion: conversion, training: training}

	router.HandleInline(api.TypePing, h.Ping)
	router.HandleInline(api.TypeStartTraining, h.StartTraining)

	router.Handle(api.TypeListVoices, h.ListVoices)
	router.Handle(api.TypeSynthesize, h.Synthesize)
	router.Handle(api.TypeUploadTrainingData, h.UploadTrainingData)
	router.Handle(api.TypeConvertVoice, h.ConvertVoice)
	router.Handle(api.TypeRawBackendRequest, h.RawBackendRequest)

	return router
}

func (r *Router) Handle(msgType string, handler Handler) {
	r.routes[msgType] = route{handler: handler}
}

// HandleInline registers a handler that must not block on a backend.
func (r *Router) HandleInline(msgType string, handler Handler) {
	r.routes[msgType] = route{handler: handler, inline: true}
}

// Dispatch parses one inbound frame from s and runs or starts its handler.
func (r *Router) Dispatch(s *Session, data []byte) {
	var msg api.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("malformed message", "client_id", s.Id(), "error", err)
		r.metrics.RecordMessage("malformed", "error")
		s.Send(api.Message{Type: api.TypeError, Error: "invalid message format"})
		return
	}

	rt, ok := r.routes[msg.Type]
	if !ok {
		slog.Warn("unknown message type", "client_id", s.Id(), "type", msg.Type, "request_id", msg.RequestId)
		r.metrics.RecordMessage("unknown", "error")
		s.Send(api.Message{Type: api.TypeError, RequestId: msg.RequestId, Error: fmt.Sprintf("unknown message type: %q", msg.Type)})
		return
	}

	req := &Request{Type: msg.Type, RequestId: msg.RequestId, Data: msg.Data, session: s}

	if rt.inline {
		r.run(rt.handler, req)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(rt.handler, req)
	}()
}

func (r *Router) run(handler Handler, req *Request) {
	result := "ok"
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in message handler", "type", req.Type, "request_id", req.RequestId, "panic", rec, "stack", string(debug.Stack()))
			req.session.Send(api.Message{Type: api.TypeError, RequestId: req.RequestId, Error: "internal server error"})
			result = "error"
		}
		r.metrics.RecordMessage(req.Type, result)
	}()

	if err := handler(r.baseCtx, req); err != nil {
		result = "error"
		req.session.Send(errorReply(req.Type, req.RequestId, err))
	}
}

// Wait blocks until every dispatched handler has returned.
func (r *Router) Wait() {
	r.wg.Wait()
}
