// Package session 把核心累加器组织成面向调用方的追踪会话：
// 每个会话持有一条活跃的指纹链，接受更新、扇出与子追踪，最终被封印。
// 封印记录经 Store 落库（内存或 MySQL），折叠事件经 Producer 发布
//（内存、Redis 或 RabbitMQ），可选地把封印锚点提交到链上。
package session
