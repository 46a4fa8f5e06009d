// 演示如何用 SDK 驱动一条追踪会话：顺序更新、并行扇出、封印与校验。
// 运行前先启动 sighad，或把 baseURL 指向已有实例。
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"Sigha-Chain/sdk/go/sigha"
)

func main() {
	baseURL := os.Getenv("SIGHA_API")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}

	client, err := sigha.NewClient(baseURL, nil)
	if err != nil {
		log.Fatalf("构造客户端失败: %v", err)
	}
	ctx := context.Background()

	info, err := client.CreateSession(ctx)
	if err != nil {
		log.Fatalf("创建会话失败: %v", err)
	}
	fmt.Printf("会话 %s 已创建，T0 前 16 位: %.16s...\n", info.SessionID, info.T)

	for _, agent := range []string{"planner", "executor"} {
		info, err = client.Update(ctx, info.SessionID, agent, info.T)
		if err != nil {
			log.Fatalf("更新失败: %v", err)
		}
		fmt.Printf("step %d (%s): T=%.16s...\n", info.Depth, agent, info.T)
	}

	// 顺序路径可以整体重放校验。
	verdict, err := client.VerifyPath(ctx, info.T, info.Path)
	if err != nil {
		log.Fatalf("路径校验失败: %v", err)
	}
	fmt.Printf("路径校验: ok=%v (%s)\n", verdict.OK, verdict.Reason)

	info, err = client.Fanout(ctx, info.SessionID, []string{"searcher", "summarizer", "critic"})
	if err != nil {
		log.Fatalf("扇出失败: %v", err)
	}
	fmt.Printf("并行扇出合入后深度 %d\n", info.Depth)

	seal, err := client.Seal(ctx, info.SessionID, []byte("final deliverable"))
	if err != nil {
		log.Fatalf("封印失败: %v", err)
	}
	fmt.Printf("封印完成: anchor=%s\n", seal.Anchor)

	sealVerdict, err := client.VerifySeal(ctx, info.SessionID, []byte("final deliverable"))
	if err != nil {
		log.Fatalf("封印校验失败: %v", err)
	}
	fmt.Printf("封印校验: ok=%v\n", sealVerdict.OK)
}
