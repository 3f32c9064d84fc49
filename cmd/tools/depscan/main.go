package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/personachat/backend/internal/depscan"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	source := flag.String("src", envOr("DEPSCAN_SRC", "."), "要扫描的 Go 文件或目录")
	modPath := flag.String("mod", envOr("DEPSCAN_GOMOD", "go.mod"), "go.mod 路径")
	out := flag.String("out", envOr("DEPSCAN_OUT", "requirements.txt"), "输出文件路径")
	flag.Parse()

	n, err := depscan.Generate(*source, *modPath, *out)
	if err != nil {
		log.Fatalf("生成依赖清单失败: %v", err)
	}

	fmt.Printf("Requirements file created with %d packages\n", n)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
