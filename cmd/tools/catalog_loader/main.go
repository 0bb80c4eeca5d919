package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"efiling/internal/config"
	"efiling/internal/filing"
	"efiling/internal/filing/catalog"
	"efiling/internal/infra"
	"efiling/internal/logger"
)

func main() {
	env := flag.String("env", "dev", "配置环境 dev/prod/test")
	catalogPath := flag.String("catalog", "", "阶段目录 YAML，默认读取 filing.catalog_path")
	actorsPath := flag.String("actors", "", "办理人目录 YAML，为空时跳过")
	migrate := flag.Bool("migrate", false, "写入前执行自动迁移")
	dryRun := flag.Bool("dry-run", false, "仅校验不写入")
	flag.Parse()

	cfg, err := config.Load(*env, "")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	path := *catalogPath
	if path == "" {
		path = cfg.Filing.CatalogPath
	}
	c, err := catalog.LoadFile(path)
	if err != nil {
		log.Fatalf("读取阶段目录失败: %v", err)
	}
	if err := c.Validate(); err != nil {
		log.Fatalf("阶段目录校验失败: %v", err)
	}

	var actors []filing.Actor
	if *actorsPath != "" {
		if actors, err = catalog.LoadActorsFile(*actorsPath); err != nil {
			log.Fatalf("读取办理人目录失败: %v", err)
		}
	}

	if *dryRun {
		fmt.Printf("[dry-run] 模板 %d 个，办理人 %d 个，校验通过\n", len(c.Templates), len(actors))
		return
	}

	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer infra.CloseDatabase()

	if *migrate {
		if err := infra.AutoMigrate(db, filing.Models()...); err != nil {
			log.Fatalf("自动迁移失败: %v", err)
		}
	}

	ctx := context.Background()
	res, err := catalog.Sync(ctx, db, c, logger.Get())
	if err != nil {
		log.Fatalf("同步阶段目录失败: %v", err)
	}
	fmt.Printf("模板 %d 个：新增阶段 %d，更新 %d，未变 %d\n", res.Templates, res.Created, res.Updated, res.Unchanged)

	if len(actors) > 0 {
		n, err := catalog.SyncActors(ctx, db, actors)
		if err != nil {
			log.Fatalf("同步办理人失败: %v", err)
		}
		fmt.Printf("办理人已同步: %d\n", n)
	}
}
