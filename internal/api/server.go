package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/samcharles93/qnet/internal/kernels"
	"github.com/samcharles93/qnet/internal/logger"
	"github.com/samcharles93/qnet/internal/model"
	"github.com/samcharles93/qnet/internal/quant"
	"github.com/samcharles93/qnet/internal/version"
)

// Server exposes a quantized pipeline over HTTP. The pipeline is shared by
// all handlers without locking.
type Server struct {
	pipeline *model.Pipeline
	log      logger.Logger
	clock    func() time.Time
	newID    func() string
}

func NewServer(p *model.Pipeline, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		pipeline: p,
		log:      log,
		clock:    time.Now,
		newID:    newClassificationID,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/classify", s.handleClassify)
}

func (s *Server) handleHealth(c *echo.Context) error {
	status := "ok"
	code := http.StatusOK
	if s.pipeline == nil {
		status = "no_model"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]string{"status": status})
}

func (s *Server) handleModel(c *echo.Context) error {
	if s.pipeline == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "pipeline not configured")
	}
	resp := ModelResponse{
		Object:          "model",
		Geometry:        geometryInfo(s.pipeline.Geometry()),
		Modes:           []string{kernels.Dynamic.String()},
		DefaultMode:     s.pipeline.Mode().String(),
		ArgmaxThreshold: s.pipeline.Threshold(),
		Version:         version.Resolve(),
	}
	if rec, ok := s.pipeline.Scales(); ok {
		resp.Modes = append(resp.Modes, kernels.Static.String())
		resp.Scales = &rec
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleClassify(c *echo.Context) error {
	if s.pipeline == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "pipeline not configured")
	}
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxBodyBytes)
	req, err := decodeJSON[ClassifyRequest](body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	mode, err := s.requestMode(req)
	if err != nil {
		return s.fail(c, err)
	}

	trace, pred, err := s.pipeline.Trace(req.Pixels, mode)
	if err != nil {
		return s.fail(c, err)
	}
	resp := ClassifyResponse{
		ID:      s.newID(),
		Object:  "classification",
		Created: s.clock().Unix(),
		Class:   pred.Class,
		Logits:  pred.Logits,
		Mode:    pred.Mode.String(),
	}
	if req.Trace {
		resp.Layers = layerTraces(trace)
	}
	s.log.Debug("classified", "id", resp.ID, "class", resp.Class, "mode", resp.Mode)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) requestMode(req ClassifyRequest) (kernels.Mode, error) {
	if len(req.Pixels) == 0 {
		return 0, newInvalidRequest("pixels is required")
	}
	if req.Mode == "" {
		return s.pipeline.Mode(), nil
	}
	mode, err := kernels.ParseMode(req.Mode)
	if err != nil {
		return 0, newInvalidRequest(fmt.Sprintf("mode: %q is not one of dynamic, static", req.Mode))
	}
	return mode, nil
}

func (s *Server) fail(c *echo.Context, err error) error {
	status, errType := classifyStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("classify failed", "error", err)
	}
	return writeError(c, status, errType, err.Error())
}

func layerTraces(t model.Trace) []LayerTrace {
	out := make([]LayerTrace, 0, 5)
	out = appendTrace(out, "input", t.Input)
	out = appendTrace(out, "conv", t.Conv)
	out = appendTrace(out, "fc1", t.FC1)
	out = appendTrace(out, "relu", t.ReLU)
	return appendTrace(out, "fc2", t.FC2)
}

func appendTrace[E quant.Element](out []LayerTrace, name string, t quant.Tensor[E]) []LayerTrace {
	if t.Len() == 0 {
		return out
	}
	lt := LayerTrace{
		Name:      name,
		Scale:     t.Scale,
		ZeroPoint: t.ZeroPoint,
		Min:       int32(t.Values[0]),
		Max:       int32(t.Values[0]),
	}
	for _, v := range t.Values[1:] {
		lt.Min = min(lt.Min, int32(v))
		lt.Max = max(lt.Max, int32(v))
	}
	return append(out, lt)
}
