package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// 核心群运算计数器。指纹演化、快照折叠与封印分别累计，
// 由 /metrics 端点与 HTTP 指标一起导出。
var (
	evolutionTotal atomic.Uint64
	foldTotal      atomic.Uint64
	sealTotal      atomic.Uint64
)

// ObserveEvolution 记录 n 步指纹演化。
func ObserveEvolution(n uint64) {
	evolutionTotal.Add(n)
}

// ObserveFold 记录一次快照折叠。
func ObserveFold() {
	foldTotal.Add(1)
}

// ObserveSeal 记录一次会话封印。
func ObserveSeal() {
	sealTotal.Add(1)
}

func renderOps() string {
	var builder strings.Builder
	builder.WriteString("# HELP sigha_trace_evolutions_total Total number of fingerprint evolution steps.\n")
	builder.WriteString("# TYPE sigha_trace_evolutions_total counter\n")
	builder.WriteString(fmt.Sprintf("sigha_trace_evolutions_total %d\n", evolutionTotal.Load()))
	builder.WriteString("# HELP sigha_trace_folds_total Total number of snapshot folds.\n")
	builder.WriteString("# TYPE sigha_trace_folds_total counter\n")
	builder.WriteString(fmt.Sprintf("sigha_trace_folds_total %d\n", foldTotal.Load()))
	builder.WriteString("# HELP sigha_trace_seals_total Total number of sealed sessions.\n")
	builder.WriteString("# TYPE sigha_trace_seals_total counter\n")
	builder.WriteString(fmt.Sprintf("sigha_trace_seals_total %d\n", sealTotal.Load()))
	return builder.String()
}
