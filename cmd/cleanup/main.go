package main

import (
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/qs3c/kanchana_server/config"
	"github.com/qs3c/kanchana_server/internal/database"
	"github.com/qs3c/kanchana_server/internal/repository"
)

var (
	dryRun        = flag.Bool("dry-run", true, "Dry run mode, don't actually delete records")
	guestIdleDays = flag.Int("guest-idle-days", 30, "Days a guest usage record may stay idle")
	orphanBatch   = flag.Int("orphan-batch", 500, "Vector entries inspected per batch")
	cleanGuests   = flag.Bool("clean-guests", true, "Purge idle guest usage records")
	cleanOrphans  = flag.Bool("clean-orphans", true, "Purge vectors whose message no longer exists")
)

func main() {
	flag.Parse()

	log.Println("🧹 Starting cleanup task...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 连接数据库
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	var guests, vectors int64

	// 1. 清理长期未活跃的访客额度记录
	if *cleanGuests {
		log.Printf("\n👤 Cleaning guest usage idle for more than %d days...", *guestIdleDays)
		guests = purgeIdleGuests(repository.NewGuestUsageRepository(db), *guestIdleDays, *dryRun)
	}

	// 2. 清理消息已删除的向量
	if *cleanOrphans {
		log.Println("\n🧠 Cleaning orphan memory vectors...")
		vectors = purgeOrphanVectors(repository.NewVectorRepository(db), *orphanBatch, *dryRun)
	}

	// 输出统计
	log.Println("\n" + strings.Repeat("=", 60))
	log.Println("📊 Cleanup Summary")
	log.Println(strings.Repeat("=", 60))
	log.Printf("Idle guest records: %d", guests)
	log.Printf("Orphan vectors: %d", vectors)
	if *dryRun {
		log.Println("\n⚠️  DRY RUN MODE - No records were actually deleted")
		log.Println("   Run with -dry-run=false to actually delete records")
	} else {
		log.Println("\n✅ Cleanup completed!")
	}
	log.Println(strings.Repeat("=", 60))
}

// GuestPurger 访客额度记录清理
type GuestPurger interface {
	CountIdleBefore(cutoff time.Time) (int64, error)
	DeleteIdleBefore(cutoff time.Time) (int64, error)
}

// VectorPurger 孤立向量清理
type VectorPurger interface {
	ListOrphanIDs(limit int) ([]string, error)
	DeleteByIDs(ids []string) (int64, error)
}

// purgeIdleGuests 返回命中（dry-run）或实际删除的记录数
func purgeIdleGuests(repo GuestPurger, idleDays int, dryRun bool) int64 {
	if idleDays < 1 {
		idleDays = 1
	}
	cutoff := time.Now().AddDate(0, 0, -idleDays)

	if dryRun {
		count, err := repo.CountIdleBefore(cutoff)
		if err != nil {
			log.Printf("Failed to count idle guests: %v", err)
			return 0
		}
		log.Printf("Found %d guest records idle since %s", count, cutoff.Format(time.RFC3339))
		return count
	}

	deleted, err := repo.DeleteIdleBefore(cutoff)
	if err != nil {
		log.Printf("    ❌ Failed to delete idle guests: %v", err)
		return 0
	}
	log.Printf("Deleted %d guest records idle since %s", deleted, cutoff.Format(time.RFC3339))
	return deleted
}

// purgeOrphanVectors 分批删除；dry-run 只统计第一批
func purgeOrphanVectors(repo VectorPurger, batch int, dryRun bool) int64 {
	if batch < 1 {
		batch = 500
	}

	var total int64
	for {
		ids, err := repo.ListOrphanIDs(batch)
		if err != nil {
			log.Printf("Failed to list orphan vectors: %v", err)
			return total
		}
		if len(ids) == 0 {
			break
		}
		if dryRun {
			log.Printf("Found %d orphan vectors (first batch)", len(ids))
			return int64(len(ids))
		}

		deleted, err := repo.DeleteByIDs(ids)
		if err != nil {
			log.Printf("    ❌ Failed to delete orphan vectors: %v", err)
			return total
		}
		total += deleted
		if deleted == 0 || len(ids) < batch {
			break
		}
	}

	log.Printf("Deleted %d orphan vectors", total)
	return total
}
