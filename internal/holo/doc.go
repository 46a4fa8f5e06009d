// Package holo 实现全息累加器的密码学底座：大整数模幂运算、素性检测、
// 确定性 hash-to-prime 映射，以及模数/生成元/初始种子的参数生成与校验。
//
// 上层的 internal/trace 依赖本包完成指纹演化；本包自身不持有任何可变的
// 追踪状态，Context 构造完成后即不可变，可被任意数量的累加器共享。
package holo
