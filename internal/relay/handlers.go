package relay

import (
	"context"
	"time"

	"miovo-bridge/pkg/api"
)

type handlers struct {
	synthesis  SynthesisService
	conversion ConversionService
	training   TrainingService
}

func (h *handlers) Ping(ctx context.Context, req *Request) error {
	req.Reply(api.TypePong, api.PongResponse{Timestamp: time.Now().UnixMilli()})
	return nil
}

func (h *handlers) ListVoices(ctx context.Context, req *Request) error {
	req.Reply(api.TypeVoicesResponse, h.synthesis.Speakers(ctx))
	return nil
}

func (h *handlers) Synthesize(ctx context.Context, req *Request) error {
	params, err := decodeData[api.SynthesizeRequest](req)
	if err != nil {
		return err
	}

	res, err := h.synthesis.Synthesize(ctx, params)
	if err != nil {
		return err
	}

	req.Reply(api.TypeSynthesisResponse, res)
	return nil
}

func (h *handlers) UploadTrainingData(ctx context.Context, req *Request) error {
	params, err := decodeData[api.UploadRequest](req)
	if err != nil {
		return err
	}

	res, err := h.conversion.Upload(ctx, params)
	if err != nil {
		return err
	}

	if req.Reply(api.TypeUploadResponse, res) {
		h.conversion.NotifyProcessed(req.SessionContext(), res, req.Push)
	}
	return nil
}

func (h *handlers) StartTraining(ctx context.Context, req *Request) error {
	params, err := decodeData[api.TrainingRequest](req)
	if err != nil {
		return err
	}

	started := func(res api.TrainingStartedResponse) {
		req.Reply(api.TypeTrainingStarted, res)
	}

	return h.training.Start(req.SessionContext(), params, started, req.Push)
}

func (h *handlers) ConvertVoice(ctx context.Context, req *Request) error {
	params, err := decodeData[api.ConversionRequest](req)
	if err != nil {
		return err
	}

	res, err := h.conversion.Convert(ctx, params)
	if err != nil {
		return err
	}

	req.Reply(api.TypeConversionResponse, res)
	return nil
}

func (h *handlers) RawBackendRequest(ctx context.Context, req *Request) error {
	params, err := decodeData[api.PassthroughRequest](req)
	if err != nil {
		return err
	}

	res, err := h.synthesis.Passthrough(ctx, params)
	if err != nil {
		return err
	}

	req.Reply(api.TypePassthroughResp, res)
	return nil
}
