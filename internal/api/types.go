package api

import (
	"github.com/samcharles93/qnet/internal/model"
	"github.com/samcharles93/qnet/internal/version"
)

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type ClassifyRequest struct {
	Pixels []float32 `json:"pixels"`
	// Mode overrides the server's default scale strategy.
	Mode string `json:"mode,omitempty"`
	// Trace adds the scale and zero point of every layer boundary.
	Trace bool `json:"trace,omitempty"`
}

type ClassifyResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Class   int          `json:"class"`
	Logits  []float32    `json:"logits"`
	Mode    string       `json:"mode"`
	Layers  []LayerTrace `json:"layers,omitempty"`
}

type LayerTrace struct {
	Name      string  `json:"name"`
	Scale     float32 `json:"scale"`
	ZeroPoint int32   `json:"zero_point"`
	Min       int32   `json:"min"`
	Max       int32   `json:"max"`
}

type GeometryInfo struct {
	Channels     int `json:"channels"`
	Height       int `json:"height"`
	Width        int `json:"width"`
	Padding      int `json:"padding"`
	Kernel       int `json:"kernel,omitempty"`
	Stride       int `json:"stride,omitempty"`
	ConvChannels int `json:"conv_channels"`
	Hidden       int `json:"hidden"`
	Classes      int `json:"classes"`
	InputLen     int `json:"input_len"`
}

type ModelResponse struct {
	Object          string             `json:"object"`
	Geometry        GeometryInfo       `json:"geometry"`
	Modes           []string           `json:"modes"`
	DefaultMode     string             `json:"default_mode"`
	ArgmaxThreshold float32            `json:"argmax_threshold"`
	Scales          *model.ScaleRecord `json:"scales,omitempty"`
	Version         version.Info       `json:"version"`
}

func geometryInfo(g model.Geometry) GeometryInfo {
	return GeometryInfo{
		Channels:     g.Channels,
		Height:       g.Height,
		Width:        g.Width,
		Padding:      g.Padding,
		Kernel:       g.Kernel,
		Stride:       g.Stride,
		ConvChannels: g.ConvChannels,
		Hidden:       g.Hidden,
		Classes:      g.Classes,
		InputLen:     g.InputLen(),
	}
}
