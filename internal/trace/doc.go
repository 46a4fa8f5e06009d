// Package trace 实现全息累加器的状态机：指纹演化、深度跟踪与快照折叠，
// 以及其上的作用域算子（SwarmScope 的有序子追踪、ParallelScope 的可交换
// 合并）、路径重放校验、状态封印与串行化编解码。
//
// 单个 Accumulator 不做并发变更；并行只发生在 ParallelScope 的分支计算
// 与注册表的素数派生上。所有群运算经由 internal/holo 完成。
package trace
