package trace

import (
	"math/big"
)

// StartNode 是路径日志为空时用作上一跳的虚拟起点。
const StartNode = "start"

// TopologyGuard 按允许迁移表校验下一跳是否合法。
// 它只看人类可读的路径日志，不参与任何密码学验证。
type TopologyGuard struct {
	allowed map[string][]string
}

// NewTopologyGuard 以 上一跳 -> 允许的下一跳集合 建表。
func NewTopologyGuard(allowed map[string][]string) *TopologyGuard {
	cloned := make(map[string][]string, len(allowed))
	for from, next := range allowed {
		cloned[from] = append([]string(nil), next...)
	}
	return &TopologyGuard{allowed: cloned}
}

// CheckAccess 判断 agent 是否允许接在当前路径之后执行。
func (g *TopologyGuard) CheckAccess(agentID string, path []string) bool {
	last := StartNode
	if len(path) > 0 {
		last = path[len(path)-1]
	}
	for _, candidate := range g.allowed[last] {
		if candidate == agentID {
			return true
		}
	}
	return false
}

// SecurityGate 是高权限准入控制：先做路径的数学验证，再检查角色是否
// 真实出现在已验证的路径里。
type SecurityGate struct {
	inspector *Inspector
}

// NewSecurityGate 创建准入网关。
func NewSecurityGate(inspector *Inspector) *SecurityGate {
	return &SecurityGate{inspector: inspector}
}

// RequireAuthority 校验 (指纹, 路径) 一致且 role 在路径中出现过。
func (g *SecurityGate) RequireAuthority(t *big.Int, path []string, role string) bool {
	if g.inspector == nil {
		return false
	}
	ctx := g.inspector.ctx
	ok, _ := g.inspector.VerifyPath(t, path, ctx.T0(), 0)
	if !ok {
		return false
	}
	for _, agentID := range path {
		if agentID == role {
			return true
		}
	}
	return false
}
