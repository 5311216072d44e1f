package cron

import (
	"context"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/qs3c/kanchana_server/internal/model"
	"github.com/qs3c/kanchana_server/internal/pkg/crypto"
	"github.com/qs3c/kanchana_server/internal/pkg/provider"
)

const (
	warmupMode        = "Lovely"
	warmupSampleChars = 280
	warmupTimeout     = 45 * time.Second
	sweepInterval     = 5 * time.Minute
)

// Warmer 免费链路
type Warmer interface {
	HasFreeProviders() bool
	RouteFree(ctx context.Context, req provider.RouteRequest) (*provider.Reply, error)
}

// MessageSource 全局最近消息
type MessageSource interface {
	ListRecentGlobal(limit int) ([]model.Message, error)
}

// Sweeper 清理过期的限流窗口
type Sweeper interface {
	Sweep() int
}

type Options struct {
	Enabled      bool
	Interval     time.Duration
	HistoryLimit int
}

type Service struct {
	warmer   Warmer
	messages MessageSource
	cipher   *crypto.Cipher
	sweepers []Sweeper
	opts     Options
	running  int32
	stopChan chan struct{}
}

func NewService(warmer Warmer, messages MessageSource, cipher *crypto.Cipher, opts Options, sweepers ...Sweeper) *Service {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 6
	}
	return &Service{
		warmer:   warmer,
		messages: messages,
		cipher:   cipher,
		sweepers: sweepers,
		opts:     opts,
		stopChan: make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	if s.opts.Enabled {
		go s.runKeepAlive()
	}
	if len(s.sweepers) > 0 {
		go s.runSweep()
	}
	log.Printf("Cron service started (keepalive=%v, interval=%s)", s.opts.Enabled, s.opts.Interval)
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

func (s *Service) runKeepAlive() {
	s.Tick()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			go s.Tick()
		}
	}
}

// Tick 发送一次预热请求；上一次未完成或无可用免费 provider 时跳过
func (s *Service) Tick() bool {
	if s.warmer == nil || !s.warmer.HasFreeProviders() {
		return false
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return false
	}
	defer atomic.StoreInt32(&s.running, 0)

	history := s.recentHistory()
	req := provider.RouteRequest{
		Mode:     warmupMode,
		Tier:     model.TierFree,
		Input:    warmupMessage(history),
		History:  history,
		OwnerKey: "keepalive",
	}

	ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
	defer cancel()

	reply, err := s.warmer.RouteFree(ctx, req)
	if err != nil {
		log.Printf("Keepalive ping failed: %v", err)
		return true
	}
	if len(reply.Failures) > 0 {
		log.Printf("Keepalive ping served by %s after %d failures", reply.Provider, len(reply.Failures))
	}
	return true
}

// recentHistory 解密全局最近消息，失败的跳过，最多保留 HistoryLimit 条
func (s *Service) recentHistory() []provider.Turn {
	if s.messages == nil || s.cipher == nil {
		return nil
	}

	fetch := s.opts.HistoryLimit * 5
	if fetch < 10 {
		fetch = 10
	}
	records, err := s.messages.ListRecentGlobal(fetch)
	if err != nil {
		log.Printf("Keepalive history read failed: %v", err)
		return nil
	}

	turns := make([]provider.Turn, 0, len(records))
	for i := range records {
		msg := &records[i]
		text, err := s.cipher.Decrypt(crypto.Sealed{
			CipherText: msg.CipherText,
			IV:         msg.IV,
			AuthTag:    msg.AuthTag,
		}, crypto.OwnerAAD(msg.OwnerKey))
		if err != nil {
			continue
		}
		text = normalize(text)
		if text == "" {
			continue
		}
		role := provider.RoleUser
		if msg.Role == model.RoleAssistantTurn {
			role = provider.RoleAssistant
		}
		turns = append(turns, provider.Turn{ID: msg.ID, Role: role, Text: text})
	}

	if len(turns) > s.opts.HistoryLimit {
		turns = turns[len(turns)-s.opts.HistoryLimit:]
	}
	return turns
}

func warmupMessage(history []provider.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == provider.RoleUser {
			return `Warmup ping for model readiness. Latest user intent sample: "` + history[i].Text + `"`
		}
	}
	return "Warmup ping for model readiness. Stay prepared for the next conversation."
}

func normalize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > warmupSampleChars {
		text = string(runes[:warmupSampleChars])
	}
	return text
}

func (s *Service) runSweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweepAll()
		}
	}
}

// sweepAll 清理所有进程内限流窗口
func (s *Service) sweepAll() int {
	total := 0
	for _, sw := range s.sweepers {
		total += sw.Sweep()
	}
	if total > 0 {
		log.Printf("Rate limit sweep removed %d expired windows", total)
	}
	return total
}
