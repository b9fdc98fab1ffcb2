package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"latexbot-api/internal/application/quota"
	"latexbot-api/internal/config"
	"latexbot-api/internal/domain/entity"
	"latexbot-api/internal/wire"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting ledger bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// 2. 初始化数据层（仅 PostgreSQL）
	dataLayer, cleanup, err := wire.InitializePostgresOnly(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize data layer: %v", err)
	}
	defer cleanup()

	// 3. 建表
	if err := dataLayer.LedgerRepo.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate ledger: %v", err)
	}
	fmt.Println("Ledger table ready")

	// 4. 打印当前账本
	ledger, err := quota.NewRowStore(dataLayer.LedgerRepo).Load(ctx)
	if err != nil {
		log.Fatalf("failed to load ledger: %v", err)
	}

	today := entity.DayOf(time.Now(), cfg.Quota.Location())
	fmt.Printf("Today is %s, daily limit %d, retention %d days\n", today, cfg.Quota.DailyLimit, cfg.Quota.RetentionDays)
	if len(ledger) == 0 {
		fmt.Println("Ledger is empty")
		return
	}
	for _, day := range ledger.Days() {
		fmt.Printf("  %s  %d\n", day, ledger.Count(day))
	}
}
