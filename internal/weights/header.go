package weights

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samcharles93/qnet/internal/model"
)

const valuesPerLine = 16

// WriteHeader renders ws as C++ constant definitions so the weights can be
// compiled into a firmware image:
//
//	const std::vector<int8_t> fc1_weight = { ... };
//	const float fc1_scale = 0.0123f;
//	const std::vector<float> fc1_bias = { ... };
//
// Per-channel scales are emitted as a vector.
func WriteHeader(dst io.Writer, g model.Geometry, ws *model.WeightSet) error {
	if err := ws.Validate(g); err != nil {
		return err
	}
	w := bufio.NewWriter(dst)
	fmt.Fprintln(w, "// Code generated by qnet quantize. DO NOT EDIT.")
	fmt.Fprintln(w, "#pragma once")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "#include <cstdint>")
	fmt.Fprintln(w, "#include <vector>")

	if g.HasConv() {
		writeInt8s(w, LayerConv+"_weight", ws.Conv.Values)
		writeFloats(w, LayerConv+"_scale", ws.Conv.Scales)
		writeFloats(w, LayerConv+"_bias", ws.ConvBias)
	}
	writeInt8s(w, LayerFC1+"_weight", ws.FC1.Values)
	writeScalar(w, LayerFC1+"_scale", ws.FC1.Scale)
	writeFloats(w, LayerFC1+"_bias", ws.FC1Bias)
	writeInt8s(w, LayerFC2+"_weight", ws.FC2.Values)
	writeScalar(w, LayerFC2+"_scale", ws.FC2.Scale)
	writeFloats(w, LayerFC2+"_bias", ws.FC2Bias)
	return w.Flush()
}

func writeInt8s(w *bufio.Writer, name string, vals []int8) {
	fmt.Fprintf(w, "\nconst std::vector<int8_t> %s = {", name)
	for i, v := range vals {
		sep(w, i)
		w.WriteString(strconv.Itoa(int(v)))
	}
	w.WriteString("\n};\n")
}

func writeFloats(w *bufio.Writer, name string, vals []float32) {
	fmt.Fprintf(w, "\nconst std::vector<float> %s = {", name)
	for i, v := range vals {
		sep(w, i)
		w.WriteString(cFloat(v))
	}
	w.WriteString("\n};\n")
}

func writeScalar(w *bufio.Writer, name string, v float32) {
	fmt.Fprintf(w, "\nconst float %s = %s;\n", name, cFloat(v))
}

func sep(w *bufio.Writer, i int) {
	if i > 0 {
		w.WriteByte(',')
	}
	if i%valuesPerLine == 0 {
		w.WriteString("\n    ")
	} else {
		w.WriteByte(' ')
	}
}

// cFloat formats v as a C float literal that round-trips through float32.
func cFloat(v float32) string {
	s := strconv.FormatFloat(float64(v), 'g', -1, 32)
	if strings.ContainsAny(s, ".e") {
		return s + "f"
	}
	return s + ".0f"
}
