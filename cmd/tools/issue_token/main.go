package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"efiling/internal/auth"
	"efiling/internal/config"
	"efiling/internal/filing"
)

// 为本地调试签发访问令牌
func main() {
	env := flag.String("env", "dev", "配置环境 dev/prod/test")
	actorID := flag.String("actor", "", "办理人 ID")
	role := flag.String("role", "", "角色，如 CLERK、CEO")
	ttl := flag.Duration("ttl", 0, "有效期，默认取 auth.access_expiry")
	flag.Parse()

	if *actorID == "" {
		log.Fatal("必须指定 -actor")
	}
	parsed, err := filing.ParseRole(*role)
	if err != nil {
		log.Fatalf("角色无效: %v", err)
	}

	cfg, err := config.Load(*env, "")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		log.Fatal("未配置 JWT 密钥")
	}
	expiry := *ttl
	if expiry == 0 {
		expiry, _ = time.ParseDuration(cfg.Auth.AccessExpiry)
	}

	token, err := auth.NewJWTService(secret, cfg.Auth.Issuer, expiry, nil).GenerateToken(*actorID, string(parsed))
	if err != nil {
		log.Fatalf("签发令牌失败: %v", err)
	}
	fmt.Println(token)
}
